package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestHandlerExposesCollectors(t *testing.T) {
	MalformedTotal.WithLabelValues("typing").Inc()
	RESTRequestsTotal.WithLabelValues("/login", "ok").Inc()
	BridgeOutbound.WithLabelValues("message", "sent").Inc()

	body := scrape(t)
	for _, series := range []string{
		`im_malformed_payloads_total{event="typing"}`,
		`im_rest_requests_total{endpoint="/login",outcome="ok"}`,
		`im_bridge_outbound_total{result="sent",type="message"}`,
		"im_realtime_connections",
		"im_archived_messages_total",
	} {
		assert.Contains(t, body, series)
	}
}

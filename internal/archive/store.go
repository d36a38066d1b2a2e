// Package archive persists realtime messages to PostgreSQL so bridged
// conversations can be audited after the fact. The schema is applied with
// golang-migrate from migrations embedded in the binary.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/whisper/instant-messaging/internal/metrics"
	"github.com/whisper/instant-messaging/internal/protocol"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to dsn and pings the database.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "archive: open")
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "archive: ping")
	}
	return db, nil
}

// Migrate brings the schema up to date. It is a no-op when nothing changed.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "archive: migration source")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errors.Wrap(err, "archive: migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "archive: migrate")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "archive: migrate up")
	}

	version, dirty, _ := m.Version()
	log.Info().Str("component", "archive").Uint("version", version).Bool("dirty", dirty).Msg("schema ready")
	return nil
}

// Store manages archived messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Entry is one archived message as read back from the store.
type Entry struct {
	ChatID     protocol.ID        `json:"chat_id"`
	MessageID  protocol.ID        `json:"message_id,omitempty"` // empty when the backend sent no id
	UserID     protocol.ID        `json:"user_id"`
	Username   string             `json:"username,omitempty"`
	Content    string             `json:"content"`
	Direction  protocol.Direction `json:"direction"`
	Payload    json.RawMessage    `json:"payload"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save archives m. A message already archived under the same chat and
// message id is ignored.
func (s *Store) Save(ctx context.Context, m protocol.Message) error {
	e, err := entryFor(m)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO archived_messages (chat_id, message_id, user_id, username, content, direction, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id, message_id) DO NOTHING`

	var messageID sql.NullString
	if !e.MessageID.IsZero() {
		messageID = sql.NullString{String: e.MessageID.String(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query,
		e.ChatID.String(),
		messageID,
		e.UserID.String(),
		e.Username,
		e.Content,
		string(e.Direction),
		string(e.Payload),
	)
	if err != nil {
		return errors.Wrap(err, "archive: insert")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.ArchivedTotal.Inc()
	}
	return nil
}

// Recent returns up to limit archived messages of chatID, newest first.
func (s *Store) Recent(ctx context.Context, chatID protocol.ID, limit int) ([]Entry, error) {
	const query = `
		SELECT chat_id, COALESCE(message_id, ''), user_id, username, content, direction, payload, archived_at
		FROM archived_messages
		WHERE chat_id = $1
		ORDER BY archived_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, chatID.String(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "archive: query recent")
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                          Entry
			chat, msg, user, direction string
			payload                    []byte
		)
		if err := rows.Scan(&chat, &msg, &user, &e.Username, &e.Content, &direction, &payload, &e.ArchivedAt); err != nil {
			return nil, errors.Wrap(err, "archive: scan")
		}
		e.ChatID, e.MessageID, e.UserID = protocol.ID(chat), protocol.ID(msg), protocol.ID(user)
		e.Direction = protocol.Direction(direction)
		e.Payload = payload
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "archive: rows")
}

// entryFor maps m onto an archive row, keeping the backend's original
// payload when there is one.
func entryFor(m protocol.Message) (Entry, error) {
	if m.Chat.ID.IsZero() {
		return Entry{}, errors.Wrap(protocol.ErrMalformedPayload, "archive: message without chat id")
	}
	direction := m.Direction
	if direction == "" {
		direction = protocol.DirectionRx
	}

	payload := m.Raw
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(m); err != nil {
			return Entry{}, errors.Wrap(err, "archive: marshal message")
		}
	}

	return Entry{
		ChatID:    m.Chat.ID,
		MessageID: m.ID,
		UserID:    m.User.ID,
		Username:  m.User.Username,
		Content:   m.Content,
		Direction: direction,
		Payload:   payload,
	}, nil
}

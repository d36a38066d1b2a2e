package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/whisper/instant-messaging/internal/config"
	"github.com/whisper/instant-messaging/messenger"
)

type options struct {
	configPath  string
	apiURL      string
	realtimeURL string
	protocol    string
	logLevel    string
	user        string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "imctl",
		Short:        "Talk to the instant-messaging backend from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", os.Getenv("IM_CONFIG"), "YAML config file")
	f.StringVar(&opts.apiURL, "api-url", "", "REST API root")
	f.StringVar(&opts.realtimeURL, "realtime-url", "", "realtime endpoint")
	f.StringVar(&opts.protocol, "protocol", "", `realtime framing: "socketio" or "json"`)
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVarP(&opts.user, "user", "u", "", "username to act as")

	root.AddCommand(
		newSignUpCmd(opts),
		newLogInCmd(opts),
		newChatsCmd(opts),
		newMessagesCmd(opts),
		newSearchCmd(opts),
		newCreateChatCmd(opts),
		newSendCmd(opts),
		newTypingCmd(opts),
		newListenCmd(opts),
		newArchiveCmd(opts),
		newQuotaCmd(opts),
	)
	return root
}

// load resolves config file, environment and flags, in increasing priority.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	set := func(name, value string, dst *string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	set("api-url", o.apiURL, &cfg.Client.APIURL)
	set("realtime-url", o.realtimeURL, &cfg.Client.RealtimeURL)
	set("protocol", o.protocol, &cfg.Client.Protocol)
	set("log-level", o.logLevel, &cfg.LogLevel)
	set("user", o.user, &cfg.Client.Username)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !flags.Changed("log-level") && os.Getenv("IM_LOG_LEVEL") == "" && o.configPath == "" {
		cfg.LogLevel = "warn"
	}
	if err := config.SetupLogging(cfg.LogLevel, cmd.ErrOrStderr(), true); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *options) newClient() (*messenger.Client, error) {
	return messenger.New(o.cfg.Client.Messenger())
}

// loggedIn builds a client and logs the configured user in. The caller must
// LogOut.
func (o *options) loggedIn(ctx context.Context) (*messenger.Client, error) {
	if o.cfg.Client.Username == "" {
		return nil, errors.New("imctl: --user is required")
	}
	c, err := o.newClient()
	if err != nil {
		return nil, err
	}
	if _, err := c.LogIn(ctx, o.cfg.Client.Username); err != nil {
		return nil, errors.Wrapf(err, "imctl: log in as %s", o.cfg.Client.Username)
	}
	return c, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

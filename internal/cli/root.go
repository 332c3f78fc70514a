// Package cli implements the chatwire command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"chatwire/internal/client/api"
	"chatwire/internal/client/chat"
	"chatwire/internal/client/prefs"
	"chatwire/internal/client/transport"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configPath string
	server     string
	token      string
	verbose    bool

	cfg     Config
	prefs   *prefs.Store
	closers []func() error
}

// NewRootCmd builds the command tree with fresh flag state.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "chatwire",
		Short: "Talk to a chat server from the terminal",
		Long: `chatwire connects to a chat gateway over its websocket protocol.

Quick Start:
  chatwire send "hello"                 # Start a thread and stream the reply
  chatwire threads list                 # Browse saved threads
  chatwire threads show <id> -f yaml    # Export one thread
  chatwire resume <id> "and then?"      # Continue a thread`,
		Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return o.setup(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) { o.close() },
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", DefaultConfigPath(), "config file (yaml)")
	root.PersistentFlags().StringVar(&o.server, "server", "", "gateway base URL")
	root.PersistentFlags().StringVar(&o.token, "token", "", "bearer token")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newSendCmd(o),
		newThreadsCmd(o),
		newResumeCmd(o),
		newUploadCmd(o),
		newSettingsCmd(o),
		newLoginCmd(o),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) setup(cmd *cobra.Command) error {
	if o.verbose {
		log.SetOutput(cmd.ErrOrStderr())
	} else {
		log.SetOutput(io.Discard)
	}
	cfg, err := LoadConfig(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if o.server != "" {
		cfg.Server = o.server
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	o.cfg = cfg

	backend, err := prefs.OpenSQLite(cfg.Prefs)
	if err != nil {
		log.Printf("cli: prefs unavailable, using memory: %v", err)
		o.prefs = prefs.New(prefs.NewMemory(), cfg.Server)
	} else {
		o.closers = append(o.closers, backend.Close)
		o.prefs = prefs.New(backend, cfg.Server)
	}
	if o.cfg.Token == "" {
		o.cfg.Token = o.prefs.Token()
	}
	return nil
}

func (o *options) close() {
	for _, c := range o.closers {
		if err := c(); err != nil {
			log.Printf("cli: close: %v", err)
		}
	}
	o.closers = nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.cfg.Timeout)
}

func (o *options) api() *api.Client {
	return api.New(api.Config{BaseURL: o.cfg.Server, Token: o.cfg.Token})
}

// newApp wires a chat application over a fresh websocket transport. The
// caller must Close it.
func (o *options) newApp(cmd *cobra.Command) (*chat.App, *transport.Client) {
	tc := transport.New(o.cfg.SocketURL())
	ui := &terminal{err: cmd.ErrOrStderr()}
	app := chat.New(chat.Config{
		API:        o.api(),
		Transport:  tc,
		Prefs:      o.prefs,
		Navigator:  ui,
		Notifier:   ui,
		ClientType: o.cfg.ClientType,
	})
	return app, tc
}

// terminal reports toasts and navigations on stderr.
type terminal struct {
	err io.Writer
}

func (t *terminal) Error(msg string) { fmt.Fprintln(t.err, errorStyle.Render("✗ "+msg)) }
func (t *terminal) Info(msg string)  { fmt.Fprintln(t.err, metaStyle.Render(msg)) }
func (t *terminal) Navigate(path string) {
	log.Printf("cli: navigate %s", path)
}

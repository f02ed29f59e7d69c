package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"thoughtstream/cmd/internal/atproto"
	"thoughtstream/cmd/internal/viewer"
)

// cli carries state resolved by the root command for its subcommands.
type cli struct {
	cfg Config
	log Logger
}

// NewRootCommand builds the thoughtstream command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "thoughtstream",
		Short:         "Live viewer and publisher for stream.thought.blip records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file (default $TS_CONFIG_FILE)")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: json|text|pretty")
	pf.String("storage", "", "Storage backend: pebble|redis|postgres|memory")
	pf.String("data-dir", "", "Pebble data directory")

	root.AddCommand(
		c.watchCommand(),
		c.postCommand(),
		c.loginCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.messagesCommand(),
		c.clearCommand(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	if path == "" {
		path = EnvString("TS_CONFIG_FILE", "")
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return err
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend, _ = flags.GetString("storage")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.log = NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	return nil
}

func (c *cli) open(cmd *cobra.Command, opts Options) (*App, error) {
	return New(cmd.Context(), c.cfg, c.log, opts)
}

func (c *cli) watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to the firehose, print new blips and serve the local viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("http-addr") {
				c.cfg.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
			}
			if noHTTP, _ := cmd.Flags().GetBool("no-http"); noHTTP {
				c.cfg.HTTPAddr = ""
			}
			if cmd.Flags().Changed("jetstream") {
				c.cfg.JetstreamURL, _ = cmd.Flags().GetString("jetstream")
			}

			var opts Options
			if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
				opts.Out = cmd.OutOrStdout()
			}

			a, err := c.open(cmd, opts)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().String("http-addr", "", "Viewer/ops listen address (default from config)")
	cmd.Flags().Bool("no-http", false, "Do not start the HTTP listener")
	cmd.Flags().String("jetstream", "", "Jetstream base URL (default from config)")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print messages to stdout")
	return cmd
}

func (c *cli) postCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "post [text...]",
		Short: "Publish a blip (reads stdin when text is omitted or -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" || text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}

			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ref, err := a.Publisher().Publish(cmd.Context(), text)
			switch {
			case errors.Is(err, atproto.ErrNotAuthenticated):
				return errors.New("not logged in; run `thoughtstream login` first")
			case errors.Is(err, atproto.ErrEmptyContent):
				return errors.New("nothing to post")
			case err != nil:
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), ref.URI)
			return nil
		},
	}
}

func (c *cli) loginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a handle or DID and an app password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identifier, _ := cmd.Flags().GetString("identifier")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = EnvString("TS_APP_PASSWORD", "")
			}
			if strings.TrimSpace(identifier) == "" || password == "" {
				return errors.New("--identifier and --password (or TS_APP_PASSWORD) are required")
			}
			if cmd.Flags().Changed("service") {
				c.cfg.ServiceURL, _ = cmd.Flags().GetString("service")
			}

			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sess, err := a.Sessions().Login(cmd.Context(), identifier, password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", sess.Handle, sess.DID)
			return nil
		},
	}
	cmd.Flags().StringP("identifier", "i", "", "Handle, email or DID")
	cmd.Flags().StringP("password", "p", "", "App password (default $TS_APP_PASSWORD)")
	cmd.Flags().String("service", "", "Entryway for createSession (default from config)")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Sessions().Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func (c *cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sess := a.Sessions().Current()
			if sess == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "handle: %s\ndid:    %s\npds:    %s\n", sess.Handle, sess.DID, sess.PDS)
			return nil
		},
	}
}

func (c *cli) messagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Print the persisted message log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			msgs := a.Store().Messages()
			if limit > 0 && limit < len(msgs) {
				msgs = msgs[:limit]
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(viewer.ToPayloads(msgs, len(msgs)))
			}
			return viewer.NewRenderer(cmd.OutOrStdout(), nil).RenderLog(msgs)
		},
	}
	cmd.Flags().IntP("limit", "n", 0, "Newest N messages (0 for all)")
	cmd.Flags().Bool("json", false, "Print JSON, newest first")
	return cmd
}

func (c *cli) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the persisted message log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n := a.Store().Len()
			a.Store().Clear(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d messages\n", n)
			return nil
		},
	}
}

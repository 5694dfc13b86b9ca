package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theaaf/blackmagic-c2/internal/control/apiclient"
	"github.com/theaaf/blackmagic-c2/internal/control/contexts"
	"github.com/theaaf/blackmagic-c2/internal/control/shell"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/config"
	"github.com/theaaf/blackmagic-c2/internal/infrastructure/logging"
)

type rootOptions struct {
	configPath  string
	contextName string
	host        string
	secure      bool
	timeout     time.Duration

	console config.ConsoleConfig
	logger  *logging.Logger
}

// prepare resolves the hub address: flags, then the contexts file, then
// the environment.
func (r *rootOptions) prepare(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	file, err := contexts.Load(r.configPath)
	if err != nil {
		return err
	}
	ctx, err := file.Resolve(r.contextName)
	if err != nil {
		return err
	}

	var o contexts.Overrides
	flags := cmd.Flags()
	if flags.Changed("host") {
		o.Host = &r.host
	}
	if flags.Changed("secure") {
		o.Secure = &r.secure
	}
	if flags.Changed("timeout") {
		o.Timeout = &r.timeout
	}
	r.console = contexts.Apply(cfg.Console, ctx, o)

	r.logger, err = logging.ForFile(r.console.LogFile, cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.logger.Debug("Resolved hub",
		zap.String("host", r.console.Host),
		zap.String("api_host", r.console.APIHost),
		zap.Bool("secure", r.console.Secure))
	return nil
}

func (r *rootOptions) apiConfig() apiclient.Config {
	return apiclient.Config{
		Secure:  r.console.Secure,
		Host:    r.console.Host,
		APIHost: r.console.APIHost,
		Timeout: r.console.Timeout,
	}
}

// api is for commands, which are sent at most once.
func (r *rootOptions) api() *resty.Client {
	return apiclient.New(r.apiConfig())
}

// reader is for fleet reads, which are retried.
func (r *rootOptions) reader() *resty.Client {
	return apiclient.NewReader(r.apiConfig())
}

func (r *rootOptions) location() shell.Location {
	return shell.Location{
		Secure:  r.console.Secure,
		Host:    r.console.Host,
		APIHost: r.console.APIHost,
	}
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "c2ctl",
		Short:         "Operator console for the Blackmagic C2 hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.prepare(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				opts.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", contexts.DefaultPath(), "path to the contexts file")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the contexts file (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.host, "host", "", "hub host[:port] (overrides the context and C2_HOST)")
	rootCmd.PersistentFlags().BoolVar(&opts.secure, "secure", false, "use https/wss")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", apiclient.DefaultTimeout, "API request timeout")

	rootCmd.AddCommand(newShellCmd(opts))
	rootCmd.AddCommand(newAgentsCmd(opts))
	rootCmd.AddCommand(newDevicesCmd(opts))
	rootCmd.AddCommand(newHyperDeckCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

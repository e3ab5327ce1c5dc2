// Package cli wires configuration, clients and the reconciler behind the
// twilify command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/twilify/internal/config"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "1.0.0"

// App holds the process-level dependencies of the command. Tests replace the
// writers, the prompter and the Twilio endpoint.
type App struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Prompter config.Prompter
	// TwilioBaseURL overrides the Twilio REST endpoint.
	TwilioBaseURL string
	// DotEnvPaths lists .env files to export before loading config.
	DotEnvPaths []string
	Version     string
}

// New returns an App bound to the real terminal.
func New() *App {
	return &App{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Prompter: config.SurveyPrompter{},
		Version:  Version,
	}
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return New().Run(ctx, args)
}

// Run executes the root command and maps the outcome to an exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if args == nil {
		args = []string{}
	}
	cmd := a.NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.stderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

type options struct {
	init        bool
	configPath  string
	dryRun      bool
	concurrency int
	logLevel    string
	logFormat   string
	metricsFile string
	overrides   map[string]*string
}

func (o *options) overrideValues() map[string]string {
	out := make(map[string]string, len(o.overrides))
	for key, v := range o.overrides {
		if v != nil && strings.TrimSpace(*v) != "" {
			out[key] = strings.TrimSpace(*v)
		}
	}
	return out
}

// NewRootCommand builds the twilify command.
func (a *App) NewRootCommand() *cobra.Command {
	opts := &options{overrides: map[string]*string{}}
	version := a.Version
	if version == "" {
		version = Version
	}

	cmd := &cobra.Command{
		Use:   "twilify",
		Short: "Clean up Okta mobile numbers and hand out Twilio company numbers",
		Long: `twilify walks every Okta user, rewrites the mobile phone in international
format and buys a Twilio number with call and SMS forwarding for users
without a primary phone.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), opts)
		},
	}
	cmd.SetOut(a.stdout())
	cmd.SetErr(a.stderr())
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	flags.BoolP("version", "v", false, "print the version")
	flags.BoolVarP(&opts.init, "init", "i", false, "create the config file interactively, then run")

	opts.overrides[config.KeyOktaToken] = flags.StringP("okta-token", "o", "", "Okta SSWS token")
	opts.overrides[config.KeyOktaOrgURL] = flags.StringP("okta-org-url", "u", "", "Okta Org URL")
	opts.overrides[config.KeyTwilioAccountSID] = flags.StringP("twilio-account-sid", "s", "", "Twilio Account SID")
	opts.overrides[config.KeyTwilioAuthToken] = flags.StringP("twilio-auth-token", "t", "", "Twilio Auth Token")
	opts.overrides[config.KeyPrefix] = flags.StringP("prefix", "p", "", "company phone number prefix (area code)")
	opts.overrides[config.KeyTwilioFunctionBaseURL] = flags.StringP("twilio-function-base-url", "f", "", "Twilio Functions base URL")
	opts.overrides[config.KeyRegion] = flags.String("region", "", "region used to parse numbers and search for new ones (default DE)")

	flags.StringVar(&opts.configPath, "config", "", "config file path (default ~/.config/twilify/config.json)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log planned changes without buying numbers or updating users")
	flags.IntVar(&opts.concurrency, "concurrency", 4, "number of users processed in parallel")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path after the run")

	return cmd
}

func (a *App) stdout() io.Writer {
	if a.Stdout == nil {
		return os.Stdout
	}
	return a.Stdout
}

func (a *App) stderr() io.Writer {
	if a.Stderr == nil {
		return os.Stderr
	}
	return a.Stderr
}

func (a *App) configPath(opts *options) (string, error) {
	if p := strings.TrimSpace(opts.configPath); p != "" {
		return p, nil
	}
	p, err := config.DefaultPath()
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return p, nil
}

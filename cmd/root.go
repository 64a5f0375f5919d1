package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"canvas-aux/internal/application"
	"canvas-aux/internal/config"
	"canvas-aux/internal/confirmation"
	"canvas-aux/internal/display"
	apperrors "canvas-aux/internal/errors"
)

var cfgFile string

// Shared flag variables
var (
	dbUser      string
	dbPassword  string
	dbHost      string
	dbName      string
	testMachine bool

	verbose   bool
	quiet     bool
	logFile   string
	logFormat string

	outputFormat string
	noColor      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "canvas-aux",
	Short: "Build, back up, restore and export auxiliary Canvas tables",
	Long: `canvas-aux maintains auxiliary analytical tables derived from the Canvas
data warehouse. Each table is built from a SQL template; the previous version
is kept as a timestamped backup that can be restored or pruned, and the
tables can be exported to flat files for downstream reporting.

Examples:
  # Rebuild every table in dependency order
  canvas-aux build --config canvas_aux.ini

  # Rebuild two tables against the test machine
  canvas-aux build --test-machine --table Courses --table Enrollments

  # Keep the two newest backups of every table
  canvas-aux prune-backups --num-to-keep 2

  # Export every table as CSV and check the result
  canvas-aux export --dest /srv/exports --overwrite
  canvas-aux check-exports --dest /srv/exports`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the command line and exits 1 on a fatal error. The error is
// printed as one line naming its kind and the tables involved.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+apperrors.Summary(err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./canvas_aux.ini or $HOME/.config/canvas-aux/canvas_aux.ini)")

	flags.StringVar(&dbUser, "user", "", "database user (overrides DATABASE.default_user)")
	flags.StringVar(&dbPassword, "password", "", "database password (empty reads DATABASE.canvas_pwd_file)")
	flags.StringVar(&dbHost, "host", "", "database host (overrides DATABASE.default_host)")
	flags.StringVar(&dbName, "database", "", "auxiliary schema (overrides DATABASE.canvas_auxiliary_db_name)")
	flags.BoolVar(&testMachine, "test-machine", false, "use the [TESTMACHINE] host and user")

	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	flags.StringVar(&outputFormat, "format", "table", "report format (table, json, yaml)")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")

	viper.BindPFlag("format", flags.Lookup("format"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("no_color", flags.Lookup("no-color"))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig lets CANVAS_AUX_FORMAT, CANVAS_AUX_LOG_FORMAT and
// CANVAS_AUX_NO_COLOR stand in for the display flags
func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func sharedOptions() application.Options {
	return application.Options{
		ConfigPath:  cfgFile,
		User:        dbUser,
		Password:    dbPassword,
		Host:        dbHost,
		Database:    dbName,
		TestMachine: testMachine,
		Quiet:       quiet,
		Verbose:     verbose,
		LogFile:     logFile,
		LogFormat:   viper.GetString("log_format"),
	}
}

// verbFunc is the body of a verb once the application is set up
type verbFunc func(ctx context.Context, app *application.App, r *display.Renderer) error

// runVerb loads the configuration, builds the logger and renderer, and runs
// fn under a context cancelled by SIGINT or SIGTERM
func runVerb(cmd *cobra.Command, fn verbFunc) error {
	format, err := display.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	opts := sharedOptions()
	logger, err := application.NewLogger(opts)
	if err != nil {
		return err
	}

	app, err := application.New(opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.WithField("error", cerr.Error()).Warn("Failed to close database connections")
		}
	}()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := application.SignalContext(parent, logger)
	defer stop()

	out := cmd.OutOrStdout()
	color := !viper.GetBool("no_color") && display.DetectColor(out)
	renderer := display.NewRenderer(out, format, opts.Quiet).WithPalette(display.NewPalette(color))

	return fn(ctx, app, renderer)
}

// newConfirmer prompts on stderr so reports on stdout stay machine readable
func newConfirmer(cmd *cobra.Command) *confirmation.Confirmer {
	in := cmd.InOrStdin()
	errOut := cmd.ErrOrStderr()
	color := !viper.GetBool("no_color") && display.DetectColor(errOut)
	return confirmation.New(in, errOut, inputIsInteractive(in), display.NewPalette(color))
}

// inputIsInteractive reports whether answers can be read from in. A file
// must be a terminal; any other reader was supplied to answer prompts.
func inputIsInteractive(in io.Reader) bool {
	if f, ok := in.(*os.File); ok {
		return confirmation.IsInteractive(f)
	}
	return in != nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for canvas-aux",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "canvas-aux version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand
func createConfigCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print a sample configuration file",
		Long: `Print a sample INI configuration file, or with --show the effective
configuration after environment overrides and defaults.

Examples:
  # Start a new configuration
  canvas-aux config > canvas_aux.ini

  # Inspect what a run would use
  CANVAS_AUX_DATABASE_DEFAULT_HOST=db2 canvas-aux config --show --config canvas_aux.ini`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !show {
				fmt.Fprint(out, config.SampleINI)
				return nil
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return apperrors.NewConfigurationError("cannot encode configuration", err)
			}
			fmt.Fprintf(out, "# %s\n%s", cfg.Source(), data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the effective configuration as YAML")
	return cmd
}

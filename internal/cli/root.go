// Package cli holds the tablescrub command tree.
package cli

import (
	"bufio"
	"io"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aragossa/tablescrub/internal/config"
	"github.com/aragossa/tablescrub/pkg/pipeline"
)

// Version info injected via ldflags at build time
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// resolvedVersion returns Version unless it is "dev" and the build info
// carries a real module version (go install ...@vX.Y.Z).
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// app is the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// NewRootCmd builds the command tree. Without a subcommand the root command
// is the filter: it reads a JSON or CSV table on stdin and writes the
// scrubbed table to stdout in the same format.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	root := &cobra.Command{
		Use:   "tablescrub",
		Short: "Scrub emails, long numeric ids and names from JSON or CSV tables",
		Long: `tablescrub reads a table (a JSON array of objects, a single JSON object, or CSV
with a header row) on stdin and writes it back in the same format with three
fixed substitutions applied to every text column:

  email addresses          -> ***@***.com
  runs of 10+ digits       -> XXXXXXXXXX
  two capitalised words    -> Anonymous

Numeric and boolean columns pass through untouched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The filter only reads a config file named by --config, so a stray
			// tablescrub.yaml in the working directory cannot break a pipe.
			if cmd.HasParent() || a.cfgFile != "" {
				if err := config.ReadFile(a.v, a.cfgFile); err != nil {
					return err
				}
			}
			a.cfg = config.Load(a.v)
			setupLogging(cmd.ErrOrStderr(), a.cfg.LogLevel, a.cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (subcommands default to ./tablescrub.yaml or ~/.tablescrub/tablescrub.yaml)")
	root.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", config.DefaultLogFormat, "log format (console, json)")
	_ = a.v.BindPFlag(config.KeyLogLevel, root.PersistentFlags().Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newServeCmd(a), newConfigCmd(a), newVersionCmd())
	return root
}

// Execute runs the command tree against the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

func runFilter(in io.Reader, out io.Writer) error {
	bw := bufio.NewWriter(out)
	res, err := pipeline.Process(in, bw)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &pipeline.UnexpectedError{Op: "writing output", Err: err}
	}
	log.Info().
		Str("format", string(res.Format)).
		Int("rows", res.Rows).
		Int("columns", res.Columns).
		Int("cells_changed", res.Stats.CellsChanged).
		Dur("duration", res.Duration).
		Msg("table scrubbed")
	return nil
}

// setupLogging points the global logger at w. Logs never go to stdout so the
// filter output stays clean for piping.
func setupLogging(w io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).
			With().
			Timestamp().
			Logger()
	}
}

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/pfrederiksen/objstore/internal/config"
	"github.com/pfrederiksen/objstore/internal/logger"
	"github.com/pfrederiksen/objstore/pkg/storage"
)

// ExitError is the process status when a command fails.
const ExitError = 1

var (
	flagConfig    string
	flagDirectory string
	flagHome      string
	flagFormat    string
	flagLogLevel  string
	flagYes       bool
)

// session is what PersistentPreRunE resolves for the subcommands.
type session struct {
	cfg    *config.Config
	store  *storage.Storage
	format OutputFormat
}

var current *session

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objstore",
		Short: "Inspect and reset an objstore storage directory",
		Long: `objstore inspects the directory a program persists its objects in,
and can clear its first-start marker or remove everything stored there.`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "YAML config file")
	flags.StringVar(&flagDirectory, "dir", config.DefaultDirectory, "Storage directory name inside the home directory")
	flags.StringVar(&flagHome, "home", "", "Home directory (default: the current user's)")
	flags.StringVar(&flagFormat, "format", config.DefaultFormat, "Output format: text or json")
	flags.StringVar(&flagLogLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")

	cmd.AddCommand(
		newPathCmd(),
		newStatusCmd(),
		newFirstStartCmd(),
		newListCmd(),
		newInspectCmd(),
		newRemoveCmd(),
		newResetCmd(),
		newConfigCmd(),
	)
	return cmd
}

// setup merges the config file with explicitly set flags, installs the
// logger and opens the storage.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig, false)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.Directory = flagDirectory
	}
	if flags.Changed("home") {
		cfg.Home = flagHome
	}
	if flags.Changed("format") {
		cfg.Format = flagFormat
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.New(level, cmd.ErrOrStderr()))

	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Directory, storage.WithHomeDir(cfg.Home))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	logger.Debug("storage opened", logger.Fields{"path": store.Path()})

	current = &session{cfg: cfg, store: store, format: format}
	return nil
}

func output(cmd *cobra.Command, result textWriter) error {
	if err := WriteOutput(cmd.OutOrStdout(), result, current.format); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the storage directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output(cmd, &PathResult{Path: current.store.Path()})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the first-start state and the number of stored objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := current.store.List()
			if err != nil {
				return fmt.Errorf("listing objects: %w", err)
			}
			return output(cmd, &StatusResult{
				Path:       current.store.Path(),
				FirstStart: current.store.IsFirstStart(),
				Objects:    len(names),
			})
		},
	}
}

func newFirstStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "first-start",
		Short: "Manage the first-start marker",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "finish",
			Short: "Mark the first start as done",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				wasFirst := current.store.IsFirstStart()
				if err := current.store.FirstStartFinished(); err != nil {
					return fmt.Errorf("finishing first start: %w", err)
				}
				return output(cmd, &MarkerResult{
					FirstStart: current.store.IsFirstStart(),
					Changed:    wasFirst,
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove the marker so the next start counts as the first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				changed := current.store.ResetFirstStart()
				return output(cmd, &MarkerResult{
					FirstStart: current.store.IsFirstStart(),
					Changed:    changed,
				})
			},
		},
	)
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [pattern]",
		Short: "List stored objects, optionally filtered by a glob pattern",
		Long: `List stored objects. The optional pattern is a glob where '*' stays
within one path segment and '**' spans several, e.g. 'houses/*' or '**.bak'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := current.store.List()
			if err != nil {
				return fmt.Errorf("listing objects: %w", err)
			}

			result := &ListResult{Names: names}
			if len(args) == 1 {
				result.Pattern = args[0]
				result.Names, err = filterNames(names, args[0])
				if err != nil {
					return err
				}
			}
			if result.Names == nil {
				result.Names = []string{}
			}
			return output(cmd, result)
		},
	}
}

func filterNames(names []string, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var out []string
	for _, name := range names {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show the stored type and size of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := current.store.Stat(args[0])
			if err != nil {
				return err
			}
			return output(cmd, &InfoResult{Info: info})
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := current.store.Delete(args[0]); err != nil {
				return err
			}
			return output(cmd, &DeleteResult{Name: args[0]})
		},
	}
}

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the storage directory and everything in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flagYes {
				return fmt.Errorf("refusing to delete %s without --yes", current.store.Path())
			}
			failed := current.store.ResetAllData()
			return output(cmd, &ResetResult{Path: current.store.Path(), Failed: failed})
		},
	}
	cmd.Flags().BoolVar(&flagYes, "yes", false, "Confirm deletion")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the objstore config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save <file>",
		Short: "Write the effective settings to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			if err := current.cfg.Save(path); err != nil {
				return err
			}
			return output(cmd, &ConfigResult{Path: path})
		},
	})
	return cmd
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}

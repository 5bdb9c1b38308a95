package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/pkg/app"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

var Version = "dev"

// EngineBuilder assembles the long-lived components for one invocation.
type EngineBuilder func(ctx context.Context, cfg *config.Config) (*app.Engine, error)

type RootOption func(*env)

// WithConfig skips environment loading and logger setup.
func WithConfig(cfg *config.Config) RootOption {
	return func(e *env) { e.cfg = cfg }
}

func WithEngineBuilder(fn EngineBuilder) RootOption {
	return func(e *env) { e.build = fn }
}

// WithOutput redirects command output.
func WithOutput(w io.Writer) RootOption {
	return func(e *env) { e.out = w }
}

// env is the per-invocation state shared by subcommands.
type env struct {
	cfg     *config.Config
	build   EngineBuilder
	engine  *app.Engine
	runtime *app.Runtime
	out     io.Writer
}

func (e *env) settings() (*config.Manager, error) {
	initial := config.SettingsFrom(e.cfg)
	opts := []config.ManagerOption{config.WithInitialSettings(&initial)}
	if e.cfg.Runner.SettingsPath != "" {
		opts = append(opts, config.WithSettingsPath(e.cfg.Runner.SettingsPath))
	} else {
		opts = append(opts, config.WithSettingsDir(e.cfg.Paths.DataDir))
	}
	return config.NewManager(opts...)
}

// Engine builds the engine on first use and keeps it in step with the
// settings file.
func (e *env) Engine(ctx context.Context) (*app.Engine, error) {
	if e.engine != nil {
		return e.engine, nil
	}
	eng, err := e.build(ctx, e.cfg)
	if err != nil {
		return nil, err
	}
	mgr, err := e.settings()
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	rt, err := app.NewRuntime(eng, mgr)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	e.engine, e.runtime = eng, rt
	return eng, nil
}

// Defaults returns the provider and model from the settings file.
func (e *env) Defaults() (provider, model string) {
	if e.runtime != nil {
		s := e.runtime.Settings()
		return s.DefaultProvider, s.DefaultModel
	}
	return e.cfg.LLM.DefaultProvider, e.cfg.LLM.DefaultModel
}

func (e *env) Close() {
	if e.runtime != nil {
		e.runtime.Close()
	}
	if e.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.engine.Close(ctx); err != nil {
			logger.Get().Warnw("shutdown incomplete", "error", err)
		}
	}
	logger.Sync()
}

func newEnv(opts ...RootOption) *env {
	e := &env{
		build: func(ctx context.Context, cfg *config.Config) (*app.Engine, error) {
			return app.BuildEngine(ctx, cfg)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRootCmd creates the root command
func NewRootCmd(opts ...RootOption) *cobra.Command {
	return newRootCmd(newEnv(opts...))
}

func newRootCmd(e *env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tradingagents",
		Short: "TradingAgents - multi-agent equity analysis",
		Long: `TradingAgents runs a team of LLM analysts, researchers and risk managers
over market data for a US equity and produces a BUY, SELL or HOLD decision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg == nil {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if debug, _ := cmd.Flags().GetBool("debug"); debug {
					cfg.App.LogLevel = "debug"
				}
				if err := logger.Init(logger.Options{Level: cfg.App.LogLevel, Dir: cfg.App.LogDir, Docker: cfg.App.Docker}); err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				e.cfg = cfg
			}
			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				e.cfg.Debug.MetricsAddr = addr
			}
			return nil
		},
	}

	if e.out != nil {
		rootCmd.SetOut(e.out)
		rootCmd.SetErr(e.out)
	}

	rootCmd.AddCommand(newAnalyzeCmd(e))
	rootCmd.AddCommand(newProvidersCmd(e))
	rootCmd.AddCommand(newCacheCmd(e))
	rootCmd.AddCommand(newDataCmd(e))
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newResultsCmd(e))
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newSettingsCmd(e))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradingagents %s\n", Version)
		},
	}
}

func newProvidersCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List LLM providers and their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tMODEL\tCONTEXT\tIN $/1K\tOUT $/1K\tKEY")
			for _, p := range eng.Providers.List() {
				key := "missing"
				if p.APIKeyEnv == "" || os.Getenv(p.APIKeyEnv) != "" {
					key = "set"
				}
				for _, m := range p.Models {
					name := m.Name
					if name == p.DefaultModel {
						name += " *"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%.5f\t%.5f\t%s\n", p.Name, name, m.ContextLength, m.PriceIn, m.PriceOut, key)
				}
			}
			return tw.Flush()
		},
	}
}

func newCacheCmd(e *env) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or purge the market data cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show per-tier cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}
			stats := eng.Cache.Stats(cmd.Context())
			tiers := stats.Tiers
			sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Tier < tiers[j].Tier })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tENTRIES\tHITS\tMISSES\tERRORS")
			for _, t := range tiers {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", t.Tier, t.Entries, t.Hits, t.Misses, t.Errors)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "remote fetches: %d, stale served: %d\n", stats.RemoteFetches, stats.StaleServed)
			return nil
		},
	})

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cache entries older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			age, _ := cmd.Flags().GetDuration("older-than")
			eng, err := e.Engine(cmd.Context())
			if err != nil {
				return err
			}
			n, err := eng.Cache.Purge(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			DisplaySuccess(cmd.OutOrStdout(), fmt.Sprintf("purged %d entries", n))
			return nil
		},
	}
	purgeCmd.Flags().Duration("older-than", 0, "Only purge entries older than this age (0 purges everything)")
	cacheCmd.AddCommand(purgeCmd)

	return cacheCmd
}

func newSettingsCmd(e *env) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update the hot-reloadable runtime settings",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := e.settings()
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(mgr.Get(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", mgr.Path(), raw)
			return nil
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Update settings; running processes pick the change up",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := e.settings()
			if err != nil {
				return err
			}
			next, err := applyAssignments(mgr.Get(), args)
			if err != nil {
				return err
			}
			if err := mgr.Update(next); err != nil {
				return err
			}
			DisplaySuccess(cmd.OutOrStdout(), "settings updated: "+mgr.Path())
			return nil
		},
	})
	return settingsCmd
}

// applyAssignments sets JSON fields of s from key=value pairs.
func applyAssignments(s config.Settings, args []string) (config.Settings, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, err
	}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return s, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		if _, known := fields[key]; !known {
			return s, fmt.Errorf("unknown setting %q", key)
		}
		if json.Valid([]byte(value)) {
			fields[key] = json.RawMessage(value)
		} else {
			quoted, _ := json.Marshal(value)
			fields[key] = quoted
		}
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return s, err
	}
	var out config.Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return s, fmt.Errorf("invalid setting value: %w", err)
	}
	return out, nil
}

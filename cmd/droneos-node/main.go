// Command droneos-node runs a marketplace accounting node: it hosts the
// identity registry, task market, payment streams and staking ledger over a
// shared account store and broadcasts ledger events to websocket clients.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"github.com/DroneOsDev/DroneOS/internal/config"
	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/market"
	"github.com/DroneOsDev/DroneOS/internal/registry"
	"github.com/DroneOsDev/DroneOS/internal/staking"
	"github.com/DroneOsDev/DroneOS/internal/store"
	"github.com/DroneOsDev/DroneOS/internal/stream"
	"github.com/DroneOsDev/DroneOS/internal/vault"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "droneos-node",
		Short:         "Robot labor marketplace accounting node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newInitCmd())
	root.AddCommand(newDeriveCmd())
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendSQLite:
		return store.NewSQLite(cfg.Path)
	case config.BackendPostgres:
		return store.NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)

			st, err := openStore(cfg.Store)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			bus := events.NewBus(logger)
			clock := ledger.SystemClock{}
			bank := vault.NewBreaker(vault.NewMemory(), logger)

			robots := registry.NewEngine(st, clock, bus, logger)
			streams := stream.NewEngine(st, bank, clock, bus, logger)
			tasks := market.NewEngine(st, bank, clock, streams, bus, logger)
			stakes := staking.NewEngine(st, bank, clock, bus, logger)

			if cfg.Authority != "" {
				authority, err := cfg.AuthorityAddress()
				if err != nil {
					return err
				}
				if err := initializeLedgers(logger, authority, cfg, robots, streams, tasks, stakes); err != nil {
					return err
				}
			}

			mux := http.NewServeMux()
			mux.Handle("/ws", events.NewBroadcaster(bus, logger))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, "ok")
			})

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("node listening", "addr", cfg.Listen, "store", cfg.Store.Backend)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			return srv.Close()
		},
	}
}

// initializeLedgers creates the four singleton accounts. A ledger that was
// initialized on a previous start is left as is.
func initializeLedgers(
	logger *slog.Logger,
	authority ledger.Address,
	cfg *config.Config,
	robots *registry.Engine,
	streams *stream.Engine,
	tasks *market.Engine,
	stakes *staking.Engine,
) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"registry", func() error { _, err := robots.Initialize(authority); return err }},
		{"stream", func() error { _, err := streams.Initialize(authority); return err }},
		{"market", func() error {
			_, err := tasks.Initialize(authority, cfg.Market.AutoRejectSiblings)
			return err
		}},
		{"staking", func() error { _, err := stakes.Initialize(authority); return err }},
	}
	for _, step := range steps {
		err := step.run()
		if err == nil {
			continue
		}
		var lerr *ledger.Error
		if errors.As(err, &lerr) && lerr.Code == ledger.CodeExists {
			logger.Debug("ledger already initialized", "ledger", step.name)
			continue
		}
		return fmt.Errorf("initialize %s: %w", step.name, err)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			if err := config.Default().Write(out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "droneos.yaml", "where to write the config")
	return cmd
}

func newDeriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <label> [seed...]",
		Short: "Print the derived address for a label and seeds",
		Long: "Seeds are taken as UTF-8 strings unless prefixed with b58:, " +
			"in which case they are base58 decoded first.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds := make([][]byte, 0, len(args)-1)
			for _, raw := range args[1:] {
				if enc, ok := strings.CutPrefix(raw, "b58:"); ok {
					seed, err := base58.Decode(enc)
					if err != nil {
						return fmt.Errorf("decode seed %q: %w", raw, err)
					}
					seeds = append(seeds, seed)
					continue
				}
				seeds = append(seeds, []byte(raw))
			}
			addr, bump := derive.Find(args[0], seeds...)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", base58.Encode(addr[:]), bump)
			return nil
		},
	}
}

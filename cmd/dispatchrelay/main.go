package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/dispatchrelay/internal/api"
	"github.com/shohag/dispatchrelay/internal/auth"
	"github.com/shohag/dispatchrelay/internal/config"
	"github.com/shohag/dispatchrelay/internal/dispatch"
	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/models"
	"github.com/shohag/dispatchrelay/internal/notify"
	"github.com/shohag/dispatchrelay/internal/push"
	"github.com/shohag/dispatchrelay/internal/realtime"
	"github.com/shohag/dispatchrelay/internal/route"
	"github.com/shohag/dispatchrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatchrelay",
		Short: "DispatchRelay: real-time delivery dispatch and tracking",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(seedCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))
	rootCmd.AddCommand(sessionsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the DispatchRelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			var m *metrics.Metrics
			if cfg.Metrics.Enabled {
				m = metrics.New()
			}

			registry := realtime.NewRegistry(store, m, log)
			// Sessions left active by a previous process have no socket behind them.
			if err := registry.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset sessions: %w", err)
			}

			notifier := notify.NewService(store, cfg.Push.Enabled, log)
			resolver := route.NewResolver(log, m, setupProviders(cfg.Routing, log)...)
			engine := dispatch.NewEngine(store, resolver, registry, notifier, m, dispatch.Options{
				Fees:               cfg.Dispatch.FeeSchedule(),
				FanoutWorkers:      cfg.Dispatch.FanoutWorkers,
				ReannounceOnReject: cfg.Dispatch.ReannounceOnReject,
				DefaultMode:        route.ParseMode(cfg.Routing.DefaultMode),
			}, log)

			socket := realtime.NewHandler(registry, engine, realtime.HandlerConfig{
				AllowedOrigins: cfg.Realtime.AllowedOrigins,
				SendBuffer:     cfg.Realtime.SendBuffer,
				ReadTimeout:    2*cfg.Realtime.SweepInterval + 10*time.Second,
				JWTSecret:      cfg.Auth.JWTSecret,
			}, log)

			sweeper := realtime.NewSweeper(registry, cfg.Realtime.SweepInterval, log)
			sweeper.Start(ctx)

			var pool *push.Pool
			if cfg.Push.Enabled {
				pool = push.NewPool(cfg.Push, store, m, log)
				pool.Start(ctx)
			}

			server := api.NewServer(cfg, api.Deps{
				Store:    store,
				Engine:   engine,
				Notifier: notifier,
				Conns:    registry,
				Socket:   socket,
				Metrics:  m,
			}, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Bool("push", cfg.Push.Enabled).
				Strs("route_providers", cfg.Routing.Providers).
				Str("storage", cfg.Storage.Driver).
				Msg("DispatchRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			sweeper.Stop()
			if pool != nil {
				pool.Stop()
			}
			if err := registry.Reset(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close sessions")
			}

			log.Info().Msg("DispatchRelay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo store, order and delivery partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			partners, _ := cmd.Flags().GetInt("partners")
			orderID, _ := cmd.Flags().GetInt64("order")

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx := context.Background()

			lat, lng := 26.66, 86.21
			st := &models.Store{Name: "Janakpur Grocers", Address: "Station Road, Janakpur", Phone: "+977-41-520000",
				Latitude: &lat, Longitude: &lng}
			if err := store.CreateStore(ctx, st); err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			dLat, dLng := 26.7, 86.25
			o := &models.Order{
				ID: orderID, CustomerID: 9, CustomerName: "Asha", Phone: "+977-9800000000", StoreID: st.ID,
				TotalAmount: 1250, ItemCount: 3, Status: models.OrderProcessing, ShippingAddress: "Ramanand Chowk, Janakpur",
				Latitude: &dLat, Longitude: &dLng,
			}
			if err := store.CreateOrder(ctx, o); err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			created := make([]*models.DeliveryPartner, 0, partners)
			for i := 0; i < partners; i++ {
				p := &models.DeliveryPartner{
					UserID:        int64(100 + i),
					Name:          fmt.Sprintf("Partner %d", i+1),
					VehicleType:   "scooter",
					VehicleNumber: fmt.Sprintf("JA-1-PA-%04d", i+1),
					Status:        models.PartnerApproved,
					IsAvailable:   true,
				}
				if err := store.CreatePartner(ctx, p); err != nil {
					return fmt.Errorf("failed to create partner: %w", err)
				}
				created = append(created, p)
			}

			out, _ := json.MarshalIndent(map[string]interface{}{
				"store":    st,
				"order":    o,
				"partners": created,
			}, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Int("partners", 2, "number of delivery partners to create")
	cmd.Flags().Int64("order", 501, "id of the demo order")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}

			tok, err := auth.Sign(cfg.Auth.JWTSecret, auth.Principal{UserID: userID, Role: models.Role(role)}, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "user id (token subject)")
	cmd.Flags().String("role", string(models.RoleDeliveryPartner), "customer, shopkeeper or delivery_partner")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func sessionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active socket sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			sessions, err := store.ListActiveSessions(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}

			if len(sessions) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}

			for _, s := range sessions {
				fmt.Printf("  %s  user=%d  role=%s  (last activity %s)\n",
					s.SessionID, s.UserID, s.UserType, s.LastActivity.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DispatchRelay v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// setupProviders builds the remote route providers in configured order.
func setupProviders(cfg config.RoutingConfig, log zerolog.Logger) []route.Provider {
	var providers []route.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "openrouteservice":
			providers = append(providers, route.NewOpenRouteService(cfg.ORS.APIKey, cfg.ORS.BaseURL, cfg.Timeout))
		case "osrm":
			providers = append(providers, route.NewOSRM(cfg.OSRM.BaseURL, cfg.Timeout))
		default:
			log.Warn().Str("provider", name).Msg("unknown route provider, ignoring")
		}
	}
	return providers
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}

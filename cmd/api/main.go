package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/config"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/db"
	"github.com/PaulBabatuyi/fieldsync/internal/jobs"
	"github.com/PaulBabatuyi/fieldsync/internal/logger"
	"github.com/PaulBabatuyi/fieldsync/internal/middleware"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

const (
	serviceName     = "fieldsync-api"
	connectWait     = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldsync-api",
		Short:         "Field data collection API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP, WebSocket and gRPC health servers",
			RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
		},
		newCreateAdminCmd(),
		&cobra.Command{
			Use:   "ensure-indexes",
			Short: "Create the MongoDB indexes and exit",
			RunE:  func(cmd *cobra.Command, _ []string) error { return ensureIndexes(cmd.Context()) },
		},
	)
	return root
}

// setup loads configuration, installs the global logger and connects to
// MongoDB.
func setup(ctx context.Context) (*config.Config, *db.Client, error) {
	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, nil, err
	}
	log.Logger = logger.New(serviceName, cfg.LogLevel, cfg.LogFormat)

	client, err := db.New(ctx, cfg.MongoURI, cfg.DBName, connectWait)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to DB")
		return nil, nil, err
	}
	return cfg, client, nil
}

func ensureIndexes(ctx context.Context) error {
	_, client, err := setup(ctx)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	if err := client.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	log.Info().Msg("indexes ensured")
	return nil
}

func newCreateAdminCmd() *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("FIELDSYNC_ADMIN_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or FIELDSYNC_ADMIN_PASSWORD) are required")
			}
			return createAdmin(cmd.Context(), username, email, password)
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "admin username")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	return cmd
}

func createAdmin(ctx context.Context, username, email, password string) error {
	_, client, err := setup(ctx)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	if err := client.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	users := data.NewUsersStore(client.Collection(db.Users))
	admin, err := users.Create(ctx, &data.User{
		Username:  username,
		Email:     email,
		Password:  hash,
		Role:      data.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.Info().Str("user_id", admin.ID.Hex()).Str("email", admin.Email).Msg("admin created")
	return nil
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, client, err := setup(ctx)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	if err := client.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	hub := realtime.NewHub(cfg.WSSendQueue, realtime.PingPeriod)
	defer hub.Close()
	var notifier realtime.Notifier = hub
	if cfg.RedisURL != "" {
		relay, err := realtime.NewRedisRelay(ctx, cfg.RedisURL, cfg.RedisChannel, hub)
		if err != nil {
			return fmt.Errorf("connect redis relay: %w", err)
		}
		defer relay.Close()
		go relay.Run(ctx)
		notifier = relay
		log.Info().Str("channel", cfg.RedisChannel).Msg("redis event relay enabled")
	}

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiter.Stop()

	srv := newServer(cfg, client, hub, notifier, limiter)

	if cfg.SurveyExpiryCron != "" {
		sched, err := jobs.NewScheduler(cfg.SurveyExpiryCron, data.NewSurveysStore(client.Collection(db.Surveys)))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sched.Stop(sctx)
		}()
		log.Info().Str("schedule", cfg.SurveyExpiryCron).Msg("survey expiry sweep scheduled")
	}

	grpcServer, healthSrv := newHealthServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr(), err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr()).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server exit: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server exit: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errCh:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if serr := httpServer.Shutdown(sctx); serr != nil {
		log.Error().Err(serr).Msg("HTTP shutdown")
	}
	grpcServer.GracefulStop()
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle-timeline/config"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/primary/events"
	grpc_adapter "github.com/jupiterclapton/cenackle-timeline/internal/adapters/primary/grpc"
	http_adapter "github.com/jupiterclapton/cenackle-timeline/internal/adapters/primary/http"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "timeline",
		Short:         "Timeline service: fan-out on write feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the read path (HTTP) and the health endpoint (gRPC)",
			RunE:  func(cmd *cobra.Command, args []string) error { return run(cmd, true, false) },
		},
		&cobra.Command{
			Use:   "consume",
			Short: "Run the event ingestor (JetStream consumer)",
			RunE:  func(cmd *cobra.Command, args []string) error { return run(cmd, false, true) },
		},
		&cobra.Command{
			Use:     "all",
			Short:   "Run read path and ingestor in a single process",
			Aliases: []string{"run"},
			RunE:    func(cmd *cobra.Command, args []string) error { return run(cmd, true, true) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema and the Neo4j constraints",
			RunE:  func(cmd *cobra.Command, args []string) error { return migrate(cmd) },
		},
		&cobra.Command{
			Use:     "publish <subject> <json>",
			Short:   "Validate and publish one event on the stream",
			Example: `  timeline publish edge.created '{"follower_id":"bob","followee_id":"alice"}'`,
			Args:    cobra.ExactArgs(2),
			RunE:    func(cmd *cobra.Command, args []string) error { return publish(cmd, args[0], args[1]) },
		},
	)

	// Les flags priment sur l'environnement
	flags := rootCmd.PersistentFlags()
	flags.String("feed-backend", "", "feed store backend: postgres | pebble (FEED_BACKEND)")
	flags.String("graph-backend", "", "graph store backend: postgres | neo4j | pebble (GRAPH_BACKEND)")
	flags.String("cache-backend", "", "page cache backend: redis | memory (CACHE_BACKEND)")
	flags.String("pebble-dir", "", "data directory of the embedded store (PEBBLE_DIR)")
	flags.String("http-port", "", "HTTP listen port (HTTP_PORT)")
	flags.Int("workers", 0, "consumer workers per process (CONSUMER_WORKERS)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("❌ Fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load()
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"feed-backend":  &cfg.FeedBackend,
		"graph-backend": &cfg.GraphBackend,
		"cache-backend": &cfg.CacheBackend,
		"pebble-dir":    &cfg.PebbleDir,
		"http-port":     &cfg.HTTPPort,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("workers") {
		cfg.ConsumerWorkers, _ = flags.GetInt("workers")
	}

	initLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, serve, consume bool) error {
	ctx := cmd.Context()

	// 1. Config & Logger
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("🚀 Starting Timeline Service", "env", cfg.Env, "serve", serve, "consume", consume,
		"feed_backend", cfg.FeedBackend, "graph_backend", cfg.GraphBackend, "cache_backend", cfg.CacheBackend)

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure (stores, cache, Post Service)
	in, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	// 4. Initialisation du Core
	c := newCore(cfg, in)

	g, gctx := errgroup.WithContext(ctx)

	// 5. Event Ingestor (Driving Adapter - Async)
	if consume {
		js, err := in.connectBroker(ctx, cfg)
		if err != nil {
			return err
		}
		consumer := events.NewConsumer(services.NewDispatcher(c.materializer, nil), events.ConsumerConfig{
			Stream:     eventbroker.StreamName,
			Durable:    eventbroker.ConsumerName,
			Workers:    cfg.ConsumerWorkers,
			MaxDeliver: cfg.ConsumerMaxDeliver,
			AckWait:    cfg.ConsumerAckWait,
		}, nil)
		g.Go(func() error { return consumer.Run(gctx, js, eventbroker.Subjects) })
	}

	// 6. Feed Reader HTTP (Driving Adapter - Sync)
	if serve {
		verifier, err := loadVerifier(cfg)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           http_adapter.NewServer(c.reader, nil).Handler(verifier, cfg.CorsOrigins),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("🌍 Timeline HTTP listening", "port", cfg.HTTPPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// 7. Health gRPC (sondes des dépendances)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	ops := grpc_adapter.NewOpsServer(cfg.ServiceName, in.checks, 10*time.Second, nil)
	g.Go(func() error { return ops.Serve(gctx, lis) })

	// Graceful Shutdown
	<-gctx.Done()
	slog.Info("🛑 Shutting down...")
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("👋 Server exited")
	return nil
}

func migrate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.UsesPostgres() {
		pool, err := repository.NewPool(ctx, cfg.DBUrl, 1)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		slog.Info("✅ Postgres schema applied")
	}

	if cfg.GraphBackend == "neo4j" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := repository.NewNeo4jEdgeIndex(driver).EnsureSchema(ctx); err != nil {
			return err
		}
		slog.Info("✅ Neo4j constraints applied")
	}
	return nil
}

func publish(cmd *cobra.Command, subject, payload string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Même validation que côté consumer : un event refusé ici serait jeté là-bas
	ev, err := domain.DecodeEvent(subject, []byte(payload))
	if err != nil {
		return err
	}

	in := &infra{}
	defer in.Close()
	js, err := in.connectBroker(ctx, cfg)
	if err != nil {
		return err
	}
	if err := eventbroker.NewPublisher(js).Publish(ctx, ev); err != nil {
		return err
	}
	slog.Info("📤 Event published", "subject", subject)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	// Drivers
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	// Instrumentation
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/jupiterclapton/cenackle-timeline/config"
	grpc_adapter "github.com/jupiterclapton/cenackle-timeline/internal/adapters/primary/grpc"
	http_adapter "github.com/jupiterclapton/cenackle-timeline/internal/adapters/primary/http"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/cache"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/clients"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/pebblestore"
	"github.com/jupiterclapton/cenackle-timeline/internal/adapters/secondary/repository"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/services"
)

// infra regroupe les adapters secondaires choisis par la config, et de quoi les fermer.
type infra struct {
	feeds    ports.FeedStore
	edges    ports.EdgeIndex
	activity ports.ActivityStore
	pages    ports.PageCache
	posts    ports.PostClient

	checks  []grpc_adapter.Check
	closers []func()
}

func (in *infra) onClose(fn func()) { in.closers = append(in.closers, fn) }

// Close ferme dans l'ordre inverse d'ouverture
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

func openInfra(ctx context.Context, cfg config.Config) (*infra, error) {
	in := &infra{}
	if err := in.open(ctx, cfg); err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func (in *infra) open(ctx context.Context, cfg config.Config) error {
	// A. Pebble (base embarquée, partagée entre feed et graphe)
	var db *pebblestore.DB
	if cfg.UsesPebble() {
		var err error
		db, err = pebblestore.Open(pebblestore.Options{DataDir: cfg.PebbleDir})
		if err != nil {
			return fmt.Errorf("open pebble: %w", err)
		}
		in.onClose(func() { _ = db.Close() })
		slog.Info("✅ Pebble opened", "dir", cfg.PebbleDir)
	}

	// B. Postgres
	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		var err error
		pool, err = repository.NewPool(ctx, cfg.DBUrl, int32(cfg.DBMaxConns))
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		in.onClose(pool.Close)
		in.checks = append(in.checks, grpc_adapter.Check{Name: "postgres", Probe: pool.Ping})
		slog.Info("✅ Connected to Postgres")

		if cfg.Env == "local" {
			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
		}
	}

	// C. Feed + activité (même backend)
	switch cfg.FeedBackend {
	case "pebble":
		in.feeds = pebblestore.NewFeedStore(db)
		in.activity = pebblestore.NewActivityStore(db)
	default:
		in.feeds = repository.NewPostgresFeedStore(pool)
		in.activity = repository.NewPostgresActivityStore(pool)
	}

	// D. Graphe
	switch cfg.GraphBackend {
	case "pebble":
		in.edges = pebblestore.NewEdgeIndex(db)
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		in.onClose(func() { _ = driver.Close(context.Background()) })
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("connect neo4j: %w", err)
		}
		in.checks = append(in.checks, grpc_adapter.Check{Name: "neo4j", Probe: driver.VerifyConnectivity})
		slog.Info("✅ Connected to Neo4j")

		index := repository.NewNeo4jEdgeIndex(driver)
		if err := index.EnsureSchema(ctx); err != nil {
			return err
		}
		in.edges = index
	default:
		in.edges = repository.NewPostgresEdgeIndex(pool)
	}

	// E. Cache de pages
	switch cfg.CacheBackend {
	case "memory":
		in.pages = cache.NewMemoryPageCache(10_000, cfg.CacheTTL)
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		in.onClose(func() { _ = rdb.Close() })
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			return fmt.Errorf("instrument redis: %w", err)
		}
		// Le cache n'est pas source de vérité : une panne Redis au démarrage n'est pas bloquante
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("⚠️ Redis unreachable, reads will bypass the cache", "error", err)
		} else {
			slog.Info("✅ Connected to Redis")
		}
		in.checks = append(in.checks, grpc_adapter.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		in.pages = cache.NewRedisPageCache(rdb)
	}

	// F. Post Service
	in.posts = clients.NewPostClient(cfg.PostServiceUrl, cfg.PostServiceTimeout, slog.Default())
	return nil
}

// connectBroker ouvre NATS, JetStream et s'assure que le stream existe.
func (in *infra) connectBroker(ctx context.Context, cfg config.Config) (jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.NatsUrl, nats.Name(cfg.ServiceName), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	in.onClose(nc.Close)
	slog.Info("✅ Connected to NATS")

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := eventbroker.EnsureStream(ctx, js, cfg.StreamReplicas); err != nil {
		return nil, err
	}
	in.checks = append(in.checks, grpc_adapter.Check{Name: "nats", Probe: func(context.Context) error {
		if s := nc.Status(); s != nats.CONNECTED {
			return fmt.Errorf("nats status %s", s)
		}
		return nil
	}})
	return js, nil
}

// --- Core ---

type core struct {
	materializer *services.Materializer
	reader       *services.Reader
}

func newCore(cfg config.Config, in *infra) *core {
	log := slog.Default()
	graph := services.NewSocialGraph(in.edges, log)
	materializer := services.NewMaterializer(in.feeds, graph, in.posts, in.activity, services.MaterializerConfig{
		Retention:         cfg.FeedRetention,
		BackfillLimit:     cfg.BackfillLimit,
		FanoutConcurrency: cfg.FanoutConcurrency,
	}, log)
	pages := services.NewFeedCache(in.pages, in.feeds, graph, in.posts, services.FeedCacheConfig{
		TTL:                cfg.CacheTTL,
		HydrateTimeout:     cfg.HydrateTimeout,
		HydrateConcurrency: cfg.HydrateConcurrency,
	}, log)
	return &core{
		materializer: materializer,
		reader:       services.NewReader(pages, in.feeds, graph, in.activity, log),
	}
}

// loadVerifier renvoie nil en local sans clé : le middleware fait alors confiance à X-User-Id.
func loadVerifier(cfg config.Config) (*http_adapter.TokenVerifier, error) {
	if cfg.JWTPublicKeyPath == "" {
		slog.Warn("⚠️ No JWT public key configured, trusting X-User-Id header (dev mode)")
		return nil, nil
	}
	pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	return http_adapter.NewTokenVerifier(pem)
}

// --- Helpers ---

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

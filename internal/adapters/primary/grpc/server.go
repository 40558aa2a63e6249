package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check sonde une dépendance (ping Redis, Postgres, NATS...)
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// OpsServer expose grpc.health.v1 + reflection. Le statut passe à NOT_SERVING
// dès qu'une dépendance ne répond plus, et à l'arrêt.
type OpsServer struct {
	server   *grpc.Server
	health   *health.Server
	service  string
	checks   []Check
	interval time.Duration
	log      *slog.Logger
}

func NewOpsServer(service string, checks []Check, interval time.Duration, log *slog.Logger) *OpsServer {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	reflection.Register(s)

	return &OpsServer{
		server:   s,
		health:   hs,
		service:  service,
		checks:   checks,
		interval: interval,
		log:      log.With("component", "grpc"),
	}
}

// Probe exécute toutes les sondes une fois et met à jour le statut.
func (o *OpsServer) Probe(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	for _, c := range o.checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Probe(cctx)
		cancel()
		if err != nil {
			o.log.Warn("⚠️ Dependency check failed", "dependency", c.Name, "error", err)
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	o.health.SetServingStatus("", status)
	o.health.SetServingStatus(o.service, status)
	return status
}

// Serve bloque jusqu'à l'annulation de ctx, puis arrête proprement le serveur.
func (o *OpsServer) Serve(ctx context.Context, lis net.Listener) error {
	o.Probe(ctx)

	go func() {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Probe(ctx)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		o.health.Shutdown()
		o.server.GracefulStop()
	}()

	o.log.Info("📡 gRPC ops listener", "addr", lis.Addr().String())
	if err := o.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

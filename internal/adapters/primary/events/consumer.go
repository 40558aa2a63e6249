package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// message est le sous-ensemble de jetstream.Msg dont la boucle a besoin
type message interface {
	Subject() string
	Data() []byte
	Headers() nats.Header
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type ConsumerConfig struct {
	Stream         string
	Durable        string
	Workers        int
	MaxDeliver     int
	AckWait        time.Duration
	HandlerTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 10
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.HandlerTimeout <= 0 || c.HandlerTimeout >= c.AckWait {
		c.HandlerTimeout = c.AckWait * 9 / 10
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
	return c
}

// Consumer est l'Event Ingestor : N workers tirent sur un consumer durable partagé
// (plusieurs process peuvent se le partager), chaque message est acquitté selon le verdict du handler.
type Consumer struct {
	handler ports.EventHandler
	cfg     ConsumerConfig
	tracer  trace.Tracer
	log     *slog.Logger
}

func NewConsumer(handler ports.EventHandler, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		handler: handler,
		cfg:     cfg.withDefaults(),
		tracer:  otel.Tracer("timeline-ingestor"),
		log:     log.With("component", "ingestor"),
	}
}

// Run bloque jusqu'à l'annulation de ctx. Les messages en cours de traitement vont au bout.
func (c *Consumer) Run(ctx context.Context, js jetstream.JetStream, subjects []string) error {
	cons, err := js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:        c.cfg.Durable,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.cfg.AckWait,
		MaxDeliver:     c.cfg.MaxDeliver,
		FilterSubjects: subjects,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Durable, err)
	}
	c.log.Info("👂 Listening for events (JetStream)", "stream", c.cfg.Stream, "consumer", c.cfg.Durable, "workers", c.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			iter, err := cons.Messages()
			if err != nil {
				return fmt.Errorf("open message iterator: %w", err)
			}
			go func() {
				<-gctx.Done()
				iter.Stop()
			}()

			for {
				msg, err := iter.Next()
				if err != nil {
					if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
						return nil
					}
					return fmt.Errorf("next message: %w", err)
				}
				c.process(gctx, msg)
			}
		})
	}
	return g.Wait()
}

// process traite un message et le règle (ack / nak différé / term).
func (c *Consumer) process(ctx context.Context, msg message) domain.Outcome {
	meta, err := msg.Metadata()
	if err != nil {
		// Sans séquence de stream on ne peut pas versionner l'écriture
		c.log.Error("❌ Message without JetStream metadata", "subject", msg.Subject(), "error", err)
		c.settle(msg, domain.OutcomeDrop, 0)
		return domain.OutcomeDrop
	}

	d := domain.Delivery{
		Subject:      msg.Subject(),
		Payload:      msg.Data(),
		Seq:          meta.Sequence.Stream,
		NumDelivered: meta.NumDelivered,
		PublishedAt:  meta.Timestamp,
	}

	// Extraction du contexte de trace (lien avec le producteur)
	tctx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Headers()))
	tctx, span := c.tracer.Start(tctx, "process "+d.Subject,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", d.Subject),
			attribute.Int64("messaging.nats.stream_sequence", int64(d.Seq)),
			attribute.Int64("messaging.nats.num_delivered", int64(d.NumDelivered)),
		))
	defer span.End()

	// Un shutdown ne doit pas couper un handler en plein fan-out
	hctx, cancel := context.WithTimeout(context.WithoutCancel(tctx), c.cfg.HandlerTimeout)
	defer cancel()

	outcome := c.handler.Handle(hctx, d)
	span.SetAttributes(attribute.String("timeline.outcome", outcome.String()))
	if outcome != domain.OutcomeAck {
		span.SetStatus(codes.Error, outcome.String())
	}

	c.settle(msg, outcome, d.NumDelivered)
	return outcome
}

func (c *Consumer) settle(msg message, outcome domain.Outcome, attempt uint64) {
	var err error
	switch outcome {
	case domain.OutcomeAck:
		err = msg.Ack()
	case domain.OutcomeDrop:
		err = msg.Term()
	default:
		if attempt >= uint64(c.cfg.MaxDeliver) {
			c.log.Error("💀 Max deliveries reached, message abandoned", "subject", msg.Subject(), "attempt", attempt)
		}
		err = msg.NakWithDelay(c.backoff(attempt))
	}
	if err != nil {
		// Le message sera redélivré après AckWait
		c.log.Warn("Failed to settle message", "subject", msg.Subject(), "outcome", outcome.String(), "error", err)
	}
}

// backoff : base * 2^(attempt-1), plafonné
func (c *Consumer) backoff(attempt uint64) time.Duration {
	d := c.cfg.BackoffBase
	for i := uint64(1); i < attempt && d < c.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, c.cfg.BackoffMax)
}

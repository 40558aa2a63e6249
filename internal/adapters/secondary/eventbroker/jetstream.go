package eventbroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

const (
	StreamName   = "TIMELINE_EVENTS"
	ConsumerName = "timeline-materializer"
)

// Subjects couverts par le stream : content.published, content.retracted, edge.created, edge.removed
var Subjects = []string{"content.*", "edge.*"}

// EnsureStream crée ou met à jour le stream au démarrage (idempotent, ou via Terraform en prod)
func EnsureStream(ctx context.Context, js jetstream.JetStream, replicas int) (jetstream.Stream, error) {
	if replicas <= 0 {
		replicas = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: Subjects,
		Storage:  jetstream.FileStorage, // Persistance sur disque (Important !)
		Replicas: replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return stream, nil
}

// Publisher publie les events du domaine sur le stream avec le contexte de trace dans les headers.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: string(ev.Kind()),
		Data:    data,
		Header:  nats.Header{},
	}
	// Injection du TraceID dans les headers NATS
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	// JetStream confirme que le serveur a persisté le message
	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	slog.Info("📢 Event published", "subject", msg.Subject, "seq", ack.Sequence)
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
	"github.com/jupiterclapton/cenackle-timeline/internal/core/ports"
)

// Dispatcher décode un message, l'aiguille vers le Materializer et traduit le résultat
// en verdict pour le broker. Il ne fait aucun I/O lui-même.
type Dispatcher struct {
	materializer ports.Materializer
	log          *slog.Logger
}

func NewDispatcher(m ports.Materializer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{materializer: m, log: log.With("component", "dispatcher")}
}

func (d *Dispatcher) Handle(ctx context.Context, msg domain.Delivery) (outcome domain.Outcome) {
	// Un panic dans un handler ne doit pas tuer le worker : on rejoue
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("🔥 Panic while handling event", "subject", msg.Subject, "seq", msg.Seq, "panic", r)
			outcome = domain.OutcomeRetry
		}
	}()

	ev, err := domain.DecodeEvent(msg.Subject, msg.Payload)
	if err != nil {
		d.log.Error("❌ Invalid event format", "subject", msg.Subject, "seq", msg.Seq, "error", err)
		return domain.OutcomeDrop
	}

	err = d.route(ctx, ev, msg)
	outcome = Classify(err)
	switch outcome {
	case domain.OutcomeAck:
		d.log.Debug("✅ Event handled", "subject", msg.Subject, "seq", msg.Seq)
	case domain.OutcomeDrop:
		d.log.Warn("Event dropped", "subject", msg.Subject, "seq", msg.Seq, "error", err)
	default:
		d.log.Error("❌ Event failed, will retry", "subject", msg.Subject, "seq", msg.Seq, "attempt", msg.NumDelivered, "error", err)
	}
	return outcome
}

func (d *Dispatcher) route(ctx context.Context, ev domain.Event, msg domain.Delivery) error {
	switch e := ev.(type) {
	case domain.ContentPublished:
		return d.materializer.OnPublished(ctx, e)
	case domain.ContentRetracted:
		return d.materializer.OnRetracted(ctx, e)
	case domain.EdgeCreated:
		return d.materializer.OnEdgeCreated(ctx, domain.FollowEdge{
			FollowerID: e.FollowerID, FolloweeID: e.FolloweeID, Version: msg.Seq, At: msg.PublishedAt,
		})
	case domain.EdgeRemoved:
		return d.materializer.OnEdgeRemoved(ctx, domain.FollowEdge{
			FollowerID: e.FollowerID, FolloweeID: e.FolloweeID, Version: msg.Seq, At: msg.PublishedAt,
		})
	default:
		return fmt.Errorf("%w: unhandled event %T", domain.ErrMalformedEvent, ev)
	}
}

// Classify : nil => ack, erreur permanente => drop, tout le reste => retry.
func Classify(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeAck
	case errors.Is(err, domain.ErrMalformedEvent), errors.Is(err, domain.ErrInvalidIdentifier):
		return domain.OutcomeDrop
	default:
		return domain.OutcomeRetry
	}
}

var _ ports.EventHandler = (*Dispatcher)(nil)

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// EventKind est aussi le sujet NATS du message
type EventKind string

const (
	KindContentPublished EventKind = "content.published"
	KindContentRetracted EventKind = "content.retracted"
	KindEdgeCreated      EventKind = "edge.created"
	KindEdgeRemoved      EventKind = "edge.removed"
)

// Event est une union fermée : seuls les quatre types ci-dessous l'implémentent.
type Event interface {
	Kind() EventKind
	sealed()
}

type ContentPublished struct {
	PostID    string
	AuthorID  string
	CreatedAt time.Time
}

type ContentRetracted struct {
	PostID   string
	AuthorID string
}

type EdgeCreated struct {
	FollowerID string
	FolloweeID string
}

type EdgeRemoved struct {
	FollowerID string
	FolloweeID string
}

func (ContentPublished) Kind() EventKind { return KindContentPublished }
func (ContentRetracted) Kind() EventKind { return KindContentRetracted }
func (EdgeCreated) Kind() EventKind      { return KindEdgeCreated }
func (EdgeRemoved) Kind() EventKind      { return KindEdgeRemoved }

func (ContentPublished) sealed() {}
func (ContentRetracted) sealed() {}
func (EdgeCreated) sealed()      {}
func (EdgeRemoved) sealed()      {}

// --- FORMAT FIL (JSON) ---
// Pointeurs : on distingue "absent" de "vide", un champ absent n'est jamais remplacé par un défaut.

type contentPayload struct {
	PostID    *string    `json:"post_id"`
	AuthorID  *string    `json:"author_id"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type edgePayload struct {
	FollowerID *string `json:"follower_id"`
	FolloweeID *string `json:"followee_id"`
}

type field struct {
	name    string
	present bool
}

// DecodeEvent valide le payload contre le schéma du sujet et renvoie la variante typée.
// Toute erreur wrappe ErrMalformedEvent (et ErrInvalidIdentifier pour un id invalide).
func DecodeEvent(subject string, payload []byte) (Event, error) {
	kind := EventKind(subject)
	switch kind {
	case KindContentPublished:
		var p contentPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(kind, field{"post_id", p.PostID != nil}, field{"author_id", p.AuthorID != nil}, field{"created_at", p.CreatedAt != nil}); err != nil {
			return nil, err
		}
		if p.CreatedAt.IsZero() {
			return nil, fmt.Errorf("%w: %s: zero created_at", ErrMalformedEvent, kind)
		}
		if err := validateIDs(kind, "post", *p.PostID, "author", *p.AuthorID); err != nil {
			return nil, err
		}
		return ContentPublished{PostID: *p.PostID, AuthorID: *p.AuthorID, CreatedAt: NormalizeTime(*p.CreatedAt)}, nil

	case KindContentRetracted:
		var p contentPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if p.CreatedAt != nil {
			return nil, fmt.Errorf("%w: %s: unexpected field \"created_at\"", ErrMalformedEvent, kind)
		}
		if err := requireFields(kind, field{"post_id", p.PostID != nil}, field{"author_id", p.AuthorID != nil}); err != nil {
			return nil, err
		}
		if err := validateIDs(kind, "post", *p.PostID, "author", *p.AuthorID); err != nil {
			return nil, err
		}
		return ContentRetracted{PostID: *p.PostID, AuthorID: *p.AuthorID}, nil

	case KindEdgeCreated, KindEdgeRemoved:
		var p edgePayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(kind, field{"follower_id", p.FollowerID != nil}, field{"followee_id", p.FolloweeID != nil}); err != nil {
			return nil, err
		}
		if err := validateIDs(kind, "follower", *p.FollowerID, "followee", *p.FolloweeID); err != nil {
			return nil, err
		}
		if kind == KindEdgeCreated {
			return EdgeCreated{FollowerID: *p.FollowerID, FolloweeID: *p.FolloweeID}, nil
		}
		return EdgeRemoved{FollowerID: *p.FollowerID, FolloweeID: *p.FolloweeID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown subject %q", ErrMalformedEvent, subject)
	}
}

// EncodeEvent produit le payload JSON d'un event (côté publisher).
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ContentPublished:
		at := NormalizeTime(e.CreatedAt)
		return json.Marshal(contentPayload{PostID: &e.PostID, AuthorID: &e.AuthorID, CreatedAt: &at})
	case ContentRetracted:
		return json.Marshal(contentPayload{PostID: &e.PostID, AuthorID: &e.AuthorID})
	case EdgeCreated:
		return json.Marshal(edgePayload{FollowerID: &e.FollowerID, FolloweeID: &e.FolloweeID})
	case EdgeRemoved:
		return json.Marshal(edgePayload{FollowerID: &e.FollowerID, FolloweeID: &e.FolloweeID})
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, ev)
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	// Un seul objet JSON par message
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after payload", ErrMalformedEvent)
	}
	return nil
}

func requireFields(kind EventKind, fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("%w: %s: missing field %q", ErrMalformedEvent, kind, f.name)
		}
	}
	return nil
}

func validateIDs(kind EventKind, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := ValidateID(pairs[i], pairs[i+1]); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedEvent, kind, err)
		}
	}
	return nil
}

// --- LIVRAISON ---

// Delivery est un message reçu du broker, détaché de tout SDK.
type Delivery struct {
	Subject      string
	Payload      []byte
	Seq          uint64 // séquence du stream, monotone, identique sur redelivery
	NumDelivered uint64
	PublishedAt  time.Time
}

// Outcome est le verdict du handler pour un message.
type Outcome int

const (
	OutcomeAck   Outcome = iota // traité : retirer de la file
	OutcomeRetry                // échec transitoire : remettre en file
	OutcomeDrop                 // irrécupérable : jeter (ack terminal)
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

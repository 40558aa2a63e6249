package domain

import "errors"

// --- ERREURS DU DOMAINE ---
var (
	// ErrMalformedEvent : payload illisible, champ manquant ou inconnu. Le message est jeté (pas de DLQ).
	ErrMalformedEvent = errors.New("malformed event")
	// ErrInvalidIdentifier : id utilisateur/post invalide. L'opération seule est rejetée.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrStorageUnavailable : store durable (feed/graph) injoignable. Le message est rejoué.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUpstream : timeout ou erreur réseau vers un collaborateur (Post Service).
	ErrUpstream = errors.New("upstream unavailable")
	// ErrPostNotFound : le post référencé n'existe plus (rétracté).
	ErrPostNotFound = errors.New("post not found")
	// ErrUnauthenticated : aucune identité appelante exploitable.
	ErrUnauthenticated = errors.New("unauthenticated")
)

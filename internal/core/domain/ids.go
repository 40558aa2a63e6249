package domain

import (
	"fmt"
	"regexp"
)

// Les ids servent de segments de clé (Redis "feedpage:<id>:...", Pebble "feed/<id>/..."),
// d'où l'interdiction de ':' et '/'.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID vérifie un identifiant utilisateur ou post.
func ValidateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, id)
	}
	return nil
}

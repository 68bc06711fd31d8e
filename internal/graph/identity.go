package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins a node name and its store id in a composed identity string.
// Store ids never contain it, so parsing splits at the last occurrence and
// names are free to contain it.
const Separator = ":"

// CoreStoreID is the reserved store id of the primary document corpus.
const CoreStoreID = "core"

var ErrInvalidIdentity = errors.New("invalid node identity")

// Identity is the logical address of a node: a name within one data store.
// Two identities are equal iff both fields match exactly.
type Identity struct {
	Name    string
	StoreID string
}

// NewIdentity returns the identity of name within storeID.
func NewIdentity(name, storeID string) Identity {
	return Identity{Name: name, StoreID: storeID}
}

// Compose returns the string key for (name, storeID).
func Compose(name, storeID string) string {
	return name + Separator + storeID
}

// Parse is the inverse of Compose.
func Parse(s string) (Identity, error) {
	i := strings.LastIndex(s, Separator)
	if i < 0 {
		return Identity{}, fmt.Errorf("%w: %q has no store separator", ErrInvalidIdentity, s)
	}
	storeID := s[i+len(Separator):]
	if storeID == "" {
		return Identity{}, fmt.Errorf("%w: %q has an empty store id", ErrInvalidIdentity, s)
	}
	return Identity{Name: s[:i], StoreID: storeID}, nil
}

// String implements fmt.Stringer and returns the composed key.
func (id Identity) String() string {
	return Compose(id.Name, id.StoreID)
}

// Validate reports whether the identity survives a Compose/Parse round trip.
func (id Identity) Validate() error {
	if id.StoreID == "" {
		return fmt.Errorf("%w: empty store id", ErrInvalidIdentity)
	}
	if strings.Contains(id.StoreID, Separator) {
		return fmt.Errorf("%w: store id %q contains %q", ErrInvalidIdentity, id.StoreID, Separator)
	}
	return nil
}

// Rendered is a rendered node handed back by a renderer. Edges do not
// implement it: their ids are not composed identities.
type Rendered interface {
	RenderedID() string
}

// FromRendered recovers the identity behind a rendered element.
func FromRendered(r Rendered) (Identity, error) {
	return Parse(r.RenderedID())
}

// Keys composes every identity in ids.
func Keys(ids []Identity) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return keys
}

package session

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// Identity is the authenticated user an inbox acts for.
type Identity struct {
	UserID   models.ID
	UserType models.UserType
	UserName string
	Token    string
}

// Ref returns the identity as an upstream user reference.
func (i Identity) Ref() models.UserRef {
	return models.UserRef{ID: i.UserID, Type: i.UserType}
}

// Key identifies the identity in registries and channels.
func (i Identity) Key() string {
	return string(i.UserType) + ":" + i.UserID.String()
}

// Valid reports whether the identity can address the portal.
func (i Identity) Valid() bool {
	return !i.UserID.IsZero() && i.UserType.Valid()
}

// Session binds one identity to the components that serve it. Once closed, late network results are dropped.
type Session struct {
	id       string
	identity Identity
	closed   atomic.Bool
	done     chan struct{}
}

// New opens a session for identity.
func New(identity Identity) *Session {
	return &Session{
		id:       uuid.NewString(),
		identity: identity,
		done:     make(chan struct{}),
	}
}

// ID is unique per session, even for the same identity.
func (s *Session) ID() string {
	return s.id
}

// Identity returns the identity the session acts for.
func (s *Session) Identity() Identity {
	return s.identity
}

// Context attaches the identity's bearer token to parent for upstream calls.
func (s *Session) Context(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return portalapi.ContextWithToken(parent, s.identity.Token)
}

// Active reports whether results may still be applied.
func (s *Session) Active() bool {
	return !s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

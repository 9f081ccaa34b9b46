package ports

import (
	"context"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

// SessionStore persists the session snapshot across restarts.
type SessionStore interface {
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
	Clear(ctx context.Context) error
}

// SessionState is the read-only view cart and order services use to gate I/O.
type SessionState interface {
	Authenticated() bool
}

// SessionService defines the session manager's use cases.
type SessionService interface {
	Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error)
	Register(ctx context.Context, reg domain.Registration) (*domain.Session, error)
	Logout(ctx context.Context, redirect bool) (string, error)
	ResolveIdentity(ctx context.Context) (*domain.Identity, error)
	FetchPermissions(ctx context.Context) (domain.PermissionSet, error)
}

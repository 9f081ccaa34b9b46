package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/metrics"
)

// LoginPath is the redirect target returned by Logout when asked for one.
const LoginPath = "/login"

const defaultRoleName = "USER"

// authPayload is the data of a successful login or register: the token plus the
// identity fields, flattened.
type authPayload struct {
	Token string `json:"token"`
	domain.Identity
}

// userInfoPayload is GET /user/info, which names the user id "id".
type userInfoPayload struct {
	ID int64 `json:"id"`
	domain.Identity
}

type roleInfoPayload struct {
	Permissions []string `json:"permissions"`
	RoleName    string   `json:"roleName"`
}

// SessionService owns the token and identity state. It is the only writer of the
// session and implements ports.SessionHooks for the gateway.
type SessionService struct {
	gw     ports.Gateway
	store  ports.SessionStore
	logger zerolog.Logger
	now    func() time.Time

	resolve singleflight.Group

	mu        sync.RWMutex
	session   domain.Session
	listeners []func(ctx context.Context)
}

// NewSessionService wires the session manager. store may be nil, in which case the
// session does not survive a restart.
func NewSessionService(gw ports.Gateway, store ports.SessionStore, logger zerolog.Logger) *SessionService {
	return &SessionService{gw: gw, store: store, logger: logger, now: time.Now}
}

// OnTeardown registers fn to run after every session teardown (logout or hard 401).
func (s *SessionService) OnTeardown(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *SessionService) CurrentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

func (s *SessionService) Authenticated() bool {
	return s.CurrentToken() != ""
}

// Snapshot returns a copy of the current session.
func (s *SessionService) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Restore loads the persisted session. A JWT whose exp claim has passed is
// discarded instead of being sent to the backend.
func (s *SessionService) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	saved, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if saved == nil || saved.Token == "" {
		return nil
	}
	if tokenExpired(saved.Token, s.now()) {
		s.logger.Info().Msg("persisted token expired, discarding session")
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear expired session")
		}
		return nil
	}

	restored := saved.Clone()
	s.mu.Lock()
	s.session = restored
	s.mu.Unlock()
	s.logger.Info().Bool("resolved", restored.Resolved()).Msg("session restored")
	return nil
}

// Login authenticates and replaces the whole session from one response, then
// fetches permissions. A failed permission fetch leaves the session in place
// with no permissions.
func (s *SessionService) Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	if err := validateStruct(creds); err != nil {
		return nil, err
	}
	var payload authPayload
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointLogin, Body: creds}, &payload); err != nil {
		return nil, err
	}
	return s.establish(ctx, payload, "login")
}

// Register creates an account and logs it in, like Login.
func (s *SessionService) Register(ctx context.Context, reg domain.Registration) (*domain.Session, error) {
	if err := validateStruct(reg); err != nil {
		return nil, err
	}
	var payload authPayload
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointRegister, Body: reg}, &payload); err != nil {
		return nil, err
	}
	return s.establish(ctx, payload, "register")
}

func (s *SessionService) establish(ctx context.Context, payload authPayload, op string) (*domain.Session, error) {
	if payload.Token == "" {
		return nil, &domain.Error{Kind: domain.KindServer, Message: "malformed response from server: missing token"}
	}
	identity := normalizeIdentity(payload.Identity)
	next := domain.Session{
		Token:    payload.Token,
		Identity: &identity,
		RoleName: defaultRoleName,
	}

	s.mu.Lock()
	s.session = next
	s.mu.Unlock()
	s.persist(ctx)

	s.logger.Info().Int64("user_id", identity.UserID).Str("role", identity.Role.String()).Msg(op + " succeeded")

	if _, err := s.FetchPermissions(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("permission fetch failed, continuing with least privilege")
	}

	snap := s.Snapshot()
	return &snap, nil
}

// Logout always clears local state, even when the remote call fails. It returns
// LoginPath when redirect is set, and the remote error if any.
func (s *SessionService) Logout(ctx context.Context, redirect bool) (string, error) {
	var remoteErr error
	if s.Authenticated() {
		remoteErr = s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointLogout}, nil)
		if remoteErr != nil {
			s.logger.Warn().Err(remoteErr).Msg("remote logout failed, clearing local session anyway")
		}
	}
	s.Teardown(ctx, "", "logout")

	target := ""
	if redirect {
		target = LoginPath
	}
	return target, remoteErr
}

// ResolveIdentity returns the cached identity, or fetches it once for the current
// token. A 401 ends the session and yields (nil, nil). Concurrent callers share
// one fetch.
func (s *SessionService) ResolveIdentity(ctx context.Context) (*domain.Identity, error) {
	s.mu.RLock()
	token := s.session.Token
	cached := s.session.Identity
	s.mu.RUnlock()

	if token == "" {
		return nil, nil
	}
	if cached != nil {
		id := *cached
		return &id, nil
	}

	v, err, _ := s.resolve.Do(token, func() (any, error) {
		return s.fetchIdentity(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	id, _ := v.(*domain.Identity)
	if id == nil {
		return nil, nil
	}
	out := *id
	return &out, nil
}

func (s *SessionService) fetchIdentity(ctx context.Context, token string) (*domain.Identity, error) {
	// A caller that missed the cache may arrive after an earlier flight finished.
	s.mu.RLock()
	if s.session.Token == token && s.session.Identity != nil {
		id := *s.session.Identity
		s.mu.RUnlock()
		return &id, nil
	}
	s.mu.RUnlock()

	var payload userInfoPayload
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointUserInfo}, &payload); err != nil {
		if errors.Is(err, domain.ErrAuthHard) {
			s.Teardown(ctx, token, "identity_401")
			return nil, nil
		}
		return nil, err
	}
	identity := payload.Identity
	if identity.UserID == 0 {
		identity.UserID = payload.ID
	}
	identity = normalizeIdentity(identity)

	s.mu.Lock()
	if s.session.Token != token {
		s.mu.Unlock()
		s.logger.Debug().Msg("identity resolved for a replaced token, discarding")
		return nil, nil
	}
	s.session.Identity = &identity
	s.mu.Unlock()
	s.persist(ctx)

	if _, err := s.FetchPermissions(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("permission fetch after identity resolution failed")
	}
	return &identity, nil
}

// ReResolve runs identity resolution ahead of a soft-auth retry.
func (s *SessionService) ReResolve(ctx context.Context) error {
	_, err := s.ResolveIdentity(ctx)
	return err
}

// FetchPermissions loads the permission set for the current token. Any failure
// leaves the set empty.
func (s *SessionService) FetchPermissions(ctx context.Context) (domain.PermissionSet, error) {
	token := s.CurrentToken()
	if token == "" {
		return domain.PermissionSet{}, nil
	}

	var info roleInfoPayload
	err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointRoleInfo}, &info)
	if err != nil {
		s.setPermissions(ctx, token, nil, "")
		if domain.IsSoftAuth(err) {
			return domain.PermissionSet{}, nil
		}
		return domain.PermissionSet{}, err
	}

	perms := domain.PermissionSet(append([]string{}, info.Permissions...))
	s.setPermissions(ctx, token, perms, info.RoleName)
	return append(domain.PermissionSet{}, perms...), nil
}

func (s *SessionService) setPermissions(ctx context.Context, token string, perms domain.PermissionSet, roleName string) {
	if roleName == "" {
		roleName = defaultRoleName
	}
	s.mu.Lock()
	if s.session.Token != token {
		s.mu.Unlock()
		return
	}
	s.session.Permissions = perms
	s.session.RoleName = roleName
	s.mu.Unlock()
	s.persist(ctx)
}

// HasPermission reports whether code was granted to the session.
func (s *SessionService) HasPermission(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Permissions.Has(code)
}

// IsAdmin reports the locally resolved role only; use VerifyAdmin before
// anything sensitive.
func (s *SessionService) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Identity != nil && s.session.Identity.Role == domain.RoleAdmin
}

// VerifyAdmin asks the backend to confirm the admin role. Any failure is false.
func (s *SessionService) VerifyAdmin(ctx context.Context) bool {
	if !s.Authenticated() || !s.IsAdmin() {
		return false
	}
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointCheckAdmin}, nil); err != nil {
		s.logger.Warn().Err(err).Msg("admin verification failed")
		return false
	}
	return true
}

// Captcha fetches a new image challenge.
func (s *SessionService) Captcha(ctx context.Context) (*domain.Captcha, error) {
	var c domain.Captcha
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointCaptcha}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Teardown clears the session and notifies subscribers. An empty token clears
// unconditionally; otherwise only a session still holding token is cleared.
func (s *SessionService) Teardown(ctx context.Context, token, reason string) {
	s.mu.Lock()
	if s.session.Token == "" || (token != "" && s.session.Token != token) {
		s.mu.Unlock()
		return
	}
	s.session = domain.Session{}
	listeners := append([]func(context.Context){}, s.listeners...)
	s.mu.Unlock()

	metrics.SessionTeardownsTotal.WithLabelValues(reason).Inc()
	s.logger.Info().Str("reason", reason).Msg("session torn down")

	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear persisted session")
		}
	}
	for _, fn := range listeners {
		fn(ctx)
	}
}

func (s *SessionService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	snap := s.Snapshot()
	if snap.Token == "" {
		return
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

func normalizeIdentity(id domain.Identity) domain.Identity {
	if id.Nickname == "" {
		id.Nickname = id.Username
	}
	if id.Role == 0 {
		id.Role = domain.RoleUser
	}
	if id.Status == 0 {
		id.Status = domain.UserStatusNormal
	}
	return id
}

// tokenExpired peeks at the exp claim without verifying the signature. Opaque
// tokens and tokens without exp are never considered expired.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

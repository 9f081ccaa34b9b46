package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Stub gateway
// ---------------------------------------------------------------------------

type stubHandler func(call ports.Call) (any, error)

// stubGateway records every call and answers from per-endpoint handlers. Data is
// round-tripped through JSON the same way the real gateway decodes envelopes.
type stubGateway struct {
	mu       sync.Mutex
	calls    []ports.Call
	handlers map[string]stubHandler
}

func newStubGateway() *stubGateway {
	return &stubGateway{handlers: make(map[string]stubHandler)}
}

func (g *stubGateway) on(ep ports.Endpoint, h stubHandler) {
	g.mu.Lock()
	g.handlers[ep.Name] = h
	g.mu.Unlock()
}

func (g *stubGateway) reply(ep ports.Endpoint, data any) {
	g.on(ep, func(ports.Call) (any, error) { return data, nil })
}

func (g *stubGateway) fail(ep ports.Endpoint, err error) {
	g.on(ep, func(ports.Call) (any, error) { return nil, err })
}

func (g *stubGateway) Do(_ context.Context, call ports.Call, out any) error {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	h := g.handlers[call.Endpoint.Name]
	g.mu.Unlock()

	if h == nil {
		return nil
	}
	data, err := h(call)
	if err != nil {
		return err
	}
	if out == nil || data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (g *stubGateway) count(ep ports.Endpoint) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Endpoint.Name == ep.Name {
			n++
		}
	}
	return n
}

func (g *stubGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *stubGateway) last(ep ports.Endpoint) (ports.Call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.calls) - 1; i >= 0; i-- {
		if g.calls[i].Endpoint.Name == ep.Name {
			return g.calls[i], true
		}
	}
	return ports.Call{}, false
}

// ---------------------------------------------------------------------------
// Stub session state and store
// ---------------------------------------------------------------------------

type stubSession struct {
	authed atomic.Bool
}

func authedSession() *stubSession {
	s := &stubSession{}
	s.authed.Store(true)
	return s
}

func (s *stubSession) Authenticated() bool { return s.authed.Load() }

type stubSessionStore struct {
	mu      sync.Mutex
	saved   *domain.Session
	saves   int
	clears  int
	loadErr error
}

func (s *stubSessionStore) Load(context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.saved == nil {
		return nil, nil
	}
	c := s.saved.Clone()
	return &c, nil
}

func (s *stubSessionStore) Save(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := sess.Clone()
	s.saved = &c
	s.saves++
	return nil
}

func (s *stubSessionStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	s.clears++
	return nil
}

type stubDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newStubDedup() *stubDedup { return &stubDedup{seen: make(map[string]bool)} }

func (d *stubDedup) Claim(_ context.Context, orderNo, tradeNo string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := orderNo + ":" + tradeNo
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *stubDedup) Release(_ context.Context, orderNo, tradeNo string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, orderNo+":"+tradeNo)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var discardLogger = zerolog.Nop()

func errUnauthorized() error {
	return &domain.Error{Kind: domain.KindAuthHard, Message: "login expired", Code: http.StatusUnauthorized}
}

func errSoftAuth() error {
	return &domain.Error{Kind: domain.KindAuthSoft, Message: "login expired", Code: http.StatusUnauthorized}
}

func errServer() error {
	return &domain.Error{Kind: domain.KindServer, Message: "internal server error", Code: http.StatusInternalServerError}
}

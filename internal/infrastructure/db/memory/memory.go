// Package memory holds process-local stores used when no Redis address is
// configured. State is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

type SessionStore struct {
	mu   sync.Mutex
	sess *domain.Session
}

func NewSessionStore() *SessionStore { return &SessionStore{} }

func (s *SessionStore) Load(context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, nil
	}
	c := s.sess.Clone()
	return &c, nil
}

func (s *SessionStore) Save(_ context.Context, sess domain.Session) error {
	c := sess.Clone()
	s.mu.Lock()
	s.sess = &c
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Clear(context.Context) error {
	s.mu.Lock()
	s.sess = nil
	s.mu.Unlock()
	return nil
}

// CallbackDedup expires claims after ttl, checked lazily on the next claim.
type CallbackDedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewCallbackDedup(ttl time.Duration) *CallbackDedup {
	return &CallbackDedup{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// Claim reserves the callback unless a live claim exists. Expired claims are
// replaced.
func (d *CallbackDedup) Claim(_ context.Context, orderNo, tradeNo string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := orderNo + ":" + tradeNo
	now := d.now()
	if exp, ok := d.seen[k]; ok && (d.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	d.seen[k] = now.Add(d.ttl)
	return true, nil
}

func (d *CallbackDedup) Release(_ context.Context, orderNo, tradeNo string) error {
	d.mu.Lock()
	delete(d.seen, orderNo+":"+tradeNo)
	d.mu.Unlock()
	return nil
}

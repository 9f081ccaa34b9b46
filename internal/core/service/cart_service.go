package service

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/metrics"
)

// CartSignals are the UI-facing status fields. silent fetches leave Loading and
// LastError alone.
type CartSignals struct {
	Loading     bool
	LastError   error
	Initialized bool
	// Stale is set when a resync result or a superseded mutation was dropped; the
	// next applied resync clears it.
	Stale bool
}

// CartService mirrors the server cart. Every mutation of the mirror goes through
// domain.Recompute, and the lock is never held across a gateway call.
type CartService struct {
	gw      ports.Gateway
	session ports.SessionState
	logger  zerolog.Logger

	mu          sync.Mutex
	cart        domain.CartAggregate
	initialized bool
	stale       bool
	loading     int
	lastErr     error

	gen           uint64
	seq           uint64
	lineSeq       map[int64]uint64
	applied       uint64
	resyncSeq     uint64
	resyncApplied uint64
}

func NewCartService(gw ports.Gateway, session ports.SessionState, logger zerolog.Logger) *CartService {
	return &CartService{
		gw:      gw,
		session: session,
		logger:  logger,
		cart:    domain.NewCartAggregate(nil),
		lineSeq: make(map[int64]uint64),
	}
}

// mutation identifies one dispatched mutation and the lines it targets.
type mutation struct {
	gen uint64
	seq uint64
	ids []int64
}

func (s *CartService) begin(ids []int64) mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	for _, id := range ids {
		s.lineSeq[id] = s.seq
	}
	s.loading++
	return mutation{gen: s.gen, seq: s.seq, ids: ids}
}

func (s *CartService) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading > 0 {
		s.loading--
	}
	s.lastErr = err
}

// patch applies fn to every targeted line whose latest dispatched mutation is m.
// Lines touched by a newer mutation keep their newer local state. fn returning
// false removes the line.
func (s *CartService) patch(m mutation, fn func(line *domain.CartLine) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.gen != s.gen || !s.session.Authenticated() {
		return
	}

	current := make(map[int64]bool, len(m.ids))
	superseded := false
	for _, id := range m.ids {
		if s.lineSeq[id] == m.seq {
			current[id] = true
			delete(s.lineSeq, id)
		} else {
			superseded = true
		}
	}
	if superseded {
		s.stale = true
		s.logger.Debug().Uint64("seq", m.seq).Msg("cart mutation superseded on some lines, keeping newer local state")
	}
	if len(current) == 0 {
		return
	}

	lines := make([]domain.CartLine, 0, len(s.cart.Lines))
	for _, line := range s.cart.Lines {
		if current[line.ProductID] && !fn(&line) {
			continue
		}
		lines = append(lines, line)
	}
	s.cart = domain.NewCartAggregate(lines)
	s.applied++
}

// FetchCart replaces the mirror wholesale from the backend. A result is dropped
// when a newer resync was already applied or a local patch landed while it was in
// flight; the mirror is then marked stale.
func (s *CartService) FetchCart(ctx context.Context, silent bool) (*domain.CartAggregate, error) {
	if !s.session.Authenticated() {
		s.Reset()
		empty := domain.NewCartAggregate(nil)
		return &empty, nil
	}

	s.mu.Lock()
	s.resyncSeq++
	rseq, gen, appliedAtDispatch := s.resyncSeq, s.gen, s.applied
	if !silent {
		s.loading++
	}
	s.mu.Unlock()

	var dto cartDTO
	err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointCartList}, &dto)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !silent && s.loading > 0 {
		s.loading--
	}

	if err != nil {
		if domain.IsSoftAuth(err) {
			metrics.CartResyncsTotal.WithLabelValues("soft_auth").Inc()
			empty := domain.NewCartAggregate(nil)
			return &empty, nil
		}
		metrics.CartResyncsTotal.WithLabelValues("error").Inc()
		if !silent {
			s.lastErr = err
		}
		return nil, err
	}

	lines, dropped := dto.toLines()
	next := domain.NewCartAggregate(lines)
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("cart response contained duplicate or empty lines")
	}
	if reported := dto.reportedTotals(); !next.Totals.Equal(reported) {
		metrics.CartTotalsDivergenceTotal.Inc()
		s.logger.Warn().
			Str("reported_total", reported.TotalPrice.String()).
			Str("derived_total", next.Totals.TotalPrice.String()).
			Str("reported_selected_total", reported.SelectedTotalPrice.String()).
			Str("derived_selected_total", next.Totals.SelectedTotalPrice.String()).
			Msg("server cart totals diverge from local derivation, keeping derived values")
	}

	switch {
	case gen != s.gen || !s.session.Authenticated():
		metrics.CartResyncsTotal.WithLabelValues("discarded").Inc()
		empty := domain.NewCartAggregate(nil)
		return &empty, nil
	case rseq < s.resyncApplied:
		metrics.CartResyncsTotal.WithLabelValues("discarded").Inc()
		s.logger.Debug().Uint64("resync", rseq).Msg("newer resync already applied, dropping result")
		snap := s.cart.Clone()
		return &snap, nil
	case s.applied != appliedAtDispatch:
		metrics.CartResyncsTotal.WithLabelValues("discarded").Inc()
		s.stale = true
		s.logger.Debug().Uint64("resync", rseq).Msg("local mutation applied during resync, dropping result")
		snap := s.cart.Clone()
		return &snap, nil
	}

	s.cart = next
	s.initialized = true
	s.stale = false
	s.resyncApplied = rseq
	if !silent {
		s.lastErr = nil
	}
	metrics.CartResyncsTotal.WithLabelValues("applied").Inc()
	snap := s.cart.Clone()
	return &snap, nil
}

// Init fetches the cart once per session.
func (s *CartService) Init(ctx context.Context) error {
	s.mu.Lock()
	done := s.initialized
	s.mu.Unlock()
	if done {
		return nil
	}
	_, err := s.FetchCart(ctx, false)
	return err
}

// Count asks the backend for the total quantity in the cart.
func (s *CartService) Count(ctx context.Context) (int, error) {
	if !s.session.Authenticated() {
		return 0, nil
	}
	var n int
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointCartCount}, &n); err != nil {
		if domain.IsSoftAuth(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// AddItem adds quantity of a product, then resyncs instead of patching locally
// because server-side price and stock may differ from anything cached.
func (s *CartService) AddItem(ctx context.Context, productID int64, quantity int) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProduct(productID); err != nil {
		return false, err
	}
	if err := checkQuantity(quantity); err != nil {
		return false, err
	}

	s.begin(nil)
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartAdd,
		Query:    url.Values{"productId": {idParam(productID)}, "quantity": {strconv.Itoa(quantity)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}

	if _, err := s.FetchCart(ctx, true); err != nil {
		s.logger.Warn().Err(err).Int64("product_id", productID).Msg("resync after add failed")
	}
	return true, nil
}

// UpdateQuantity sets a line's quantity and recomputes every total.
func (s *CartService) UpdateQuantity(ctx context.Context, productID int64, quantity int) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProduct(productID); err != nil {
		return false, err
	}
	if err := checkQuantity(quantity); err != nil {
		return false, err
	}

	m := s.begin([]int64{productID})
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartUpdate,
		Query:    url.Values{"productId": {idParam(productID)}, "quantity": {strconv.Itoa(quantity)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, func(line *domain.CartLine) bool {
		line.Quantity = quantity
		return true
	})
	return true, nil
}

func (s *CartService) RemoveItem(ctx context.Context, productID int64) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProduct(productID); err != nil {
		return false, err
	}

	m := s.begin([]int64{productID})
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartDelete,
		Query:    url.Values{"productId": {idParam(productID)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, removeLine)
	return true, nil
}

func (s *CartService) RemoveItems(ctx context.Context, productIDs []int64) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProducts(productIDs); err != nil {
		return false, err
	}

	m := s.begin(productIDs)
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartDeleteBatch,
		Query:    url.Values{"productIds": idParams(productIDs)},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, removeLine)
	return true, nil
}

// Clear empties the cart; every derived field returns to its empty value.
func (s *CartService) Clear(ctx context.Context) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}

	m := s.begin(nil)
	err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointCartClear}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if m.gen == s.gen {
		s.cart = domain.NewCartAggregate(nil)
		s.lineSeq = make(map[int64]uint64)
		s.applied++
	}
	s.mu.Unlock()
	return true, nil
}

func (s *CartService) SetChecked(ctx context.Context, productID int64, checked bool) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProduct(productID); err != nil {
		return false, err
	}

	m := s.begin([]int64{productID})
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartChecked,
		Query:    url.Values{"productId": {idParam(productID)}, "checked": {checkedParam(checked)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, setChecked(checked))
	return true, nil
}

func (s *CartService) SetCheckedBatch(ctx context.Context, productIDs []int64, checked bool) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProducts(productIDs); err != nil {
		return false, err
	}

	m := s.begin(productIDs)
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartCheckedBatch,
		Query:    url.Values{"productIds": idParams(productIDs), "checked": {checkedParam(checked)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, setChecked(checked))
	return true, nil
}

// SetAllChecked targets every line present when the call is dispatched.
func (s *CartService) SetAllChecked(ctx context.Context, checked bool) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}

	s.mu.Lock()
	ids := make([]int64, 0, len(s.cart.Lines))
	for _, line := range s.cart.Lines {
		ids = append(ids, line.ProductID)
	}
	s.mu.Unlock()

	m := s.begin(ids)
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartCheckedAll,
		Query:    url.Values{"checked": {checkedParam(checked)}},
	}, nil)
	s.end(err)
	if err != nil {
		return false, err
	}
	s.patch(m, setChecked(checked))
	return true, nil
}

// ExistsInCart answers from the mirror when it has been loaded and holds the
// product; otherwise it asks the backend.
func (s *CartService) ExistsInCart(ctx context.Context, productID int64) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := checkProduct(productID); err != nil {
		return false, err
	}

	s.mu.Lock()
	local := s.initialized && s.cart.Contains(productID)
	s.mu.Unlock()
	if local {
		return true, nil
	}

	var exists bool
	err := s.gw.Do(ctx, ports.Call{
		Endpoint: ports.EndpointCartExists,
		Query:    url.Values{"productId": {idParam(productID)}},
	}, &exists)
	if err != nil {
		if domain.IsSoftAuth(err) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// Snapshot returns a deep copy of the mirror.
func (s *CartService) Snapshot() domain.CartAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// SelectedLines returns copies of the checked lines.
func (s *CartService) SelectedLines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Selected()
}

func (s *CartService) Signals() CartSignals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CartSignals{
		Loading:     s.loading > 0,
		LastError:   s.lastErr,
		Initialized: s.initialized,
		Stale:       s.stale,
	}
}

// Reset drops the mirror entirely. Results of calls dispatched before Reset are
// discarded when they arrive.
func (s *CartService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cart = domain.NewCartAggregate(nil)
	s.initialized = false
	s.stale = false
	s.loading = 0
	s.lastErr = nil
	s.lineSeq = make(map[int64]uint64)
}

func removeLine(*domain.CartLine) bool { return false }

func setChecked(checked bool) func(*domain.CartLine) bool {
	return func(line *domain.CartLine) bool {
		line.Checked = checked
		return true
	}
}

func checkProduct(productID int64) error {
	if productID <= 0 {
		return domain.NewValidation("product id is required", nil)
	}
	return nil
}

func checkProducts(productIDs []int64) error {
	if len(productIDs) == 0 {
		return domain.NewValidation("product ids are required", nil)
	}
	for _, id := range productIDs {
		if err := checkProduct(id); err != nil {
			return err
		}
	}
	return nil
}

func checkQuantity(quantity int) error {
	if quantity < 1 {
		return domain.NewValidation("quantity must be at least 1", nil)
	}
	return nil
}

func idParams(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = idParam(id)
	}
	return out
}

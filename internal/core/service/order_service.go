package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/metrics"
)

const (
	defaultPageSize = 10
	refreshKey      = "orders"
)

// OrderConfig holds the tunables of the order manager.
type OrderConfig struct {
	Policy   domain.OrderPolicy
	PageSize int
}

// OrderService drives the order state machine and owns the order mirrors: the
// current order, the last listed page and the status counts.
type OrderService struct {
	gw        ports.Gateway
	session   ports.SessionState
	cart      ports.CartResyncer
	scheduler ports.RefreshScheduler
	dedup     ports.CallbackDedup
	policy    domain.OrderPolicy
	pageSize  int
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	gen       uint64
	current   *domain.OrderRecord
	orders    []domain.OrderRecord
	total     int64
	lastQuery domain.ListOrdersQuery
	counts    domain.StatusCounts
	payment   *domain.PaymentHandle
}

// NewOrderService wires the order manager. A nil scheduler runs refreshes inline;
// a nil dedup disables payment-callback deduplication.
func NewOrderService(
	gw ports.Gateway,
	session ports.SessionState,
	cart ports.CartResyncer,
	scheduler ports.RefreshScheduler,
	dedup ports.CallbackDedup,
	cfg OrderConfig,
	logger zerolog.Logger,
) *OrderService {
	if scheduler == nil {
		scheduler = NewInlineScheduler(logger)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Policy.Name == "" {
		cfg.Policy = domain.PermissivePolicy()
	}
	return &OrderService{
		gw:        gw,
		session:   session,
		cart:      cart,
		scheduler: scheduler,
		dedup:     dedup,
		policy:    cfg.Policy,
		pageSize:  cfg.PageSize,
		logger:    logger,
		now:       time.Now,
		counts:    domain.EmptyStatusCounts(),
		lastQuery: domain.ListOrdersQuery{Page: 1, Size: cfg.PageSize},
	}
}

// Create places an order and seeds the current order as PENDING_PAYMENT. In cart
// mode the backend removes the checked lines, so the cart is resynced.
func (s *OrderService) Create(ctx context.Context, input domain.CreateOrderInput) (string, error) {
	if !s.session.Authenticated() {
		return "", nil
	}
	if err := validateStruct(input); err != nil {
		return "", err
	}
	if !input.FromCart && len(input.ProductIDs) == 0 {
		return "", domain.NewValidation("product ids are required when not ordering from the cart", nil)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	var created domain.OrderNumber
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ports.EndpointOrderCreate, Body: input}, &created); err != nil {
		return "", err
	}
	orderNo := string(created)
	if orderNo == "" {
		return "", &domain.Error{Kind: domain.KindServer, Message: "malformed response from server: missing order number"}
	}

	now := s.now().UTC()
	s.mu.Lock()
	if gen == s.gen {
		s.current = &domain.OrderRecord{
			OrderNo:   orderNo,
			Status:    domain.StatusPendingPayment,
			AddressID: input.AddressID,
			Note:      input.Note,
			CreatedAt: &now,
		}
	}
	s.mu.Unlock()
	metrics.OrderTransitionsTotal.WithLabelValues(domain.StatusPendingPayment.String()).Inc()
	s.logger.Info().Str("order_no", orderNo).Bool("from_cart", input.FromCart).Msg("order created")

	if input.FromCart && s.cart != nil {
		if _, err := s.cart.FetchCart(ctx, true); err != nil {
			s.logger.Warn().Err(err).Str("order_no", orderNo).Msg("cart resync after checkout failed")
		}
	}
	s.scheduleRefresh(ctx, false)
	return orderNo, nil
}

func (s *OrderService) Cancel(ctx context.Context, orderNo string) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return false, err
	}
	if status, ok := s.knownStatus(orderNo); ok {
		if !status.CanTransitionTo(domain.StatusCancelled) {
			return false, transitionError(status, domain.StatusCancelled)
		}
		if !s.policy.CanCancel(status) {
			return false, policyError("cancel", status, s.policy)
		}
	}

	if err := s.gw.Do(ctx, orderCall(ports.EndpointOrderCancel, orderNo), nil); err != nil {
		return false, err
	}
	s.transition(orderNo, domain.StatusCancelled)
	s.scheduleRefresh(ctx, true)
	return true, nil
}

// Pay starts a payment and returns the opaque handle with the redirect target.
func (s *OrderService) Pay(ctx context.Context, orderNo string, payType domain.PayType) (*domain.PaymentHandle, error) {
	if !s.session.Authenticated() {
		return nil, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return nil, err
	}
	if !payType.Valid() {
		return nil, domain.NewValidation("unsupported pay type "+strconv.Itoa(int(payType)), nil)
	}
	if status, ok := s.knownStatus(orderNo); ok && status != domain.StatusPendingPayment {
		return nil, transitionError(status, domain.StatusPendingShipping)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	call := orderCall(ports.EndpointOrderPay, orderNo)
	call.Query.Set("payType", strconv.Itoa(int(payType)))
	var raw json.RawMessage
	if err := s.gw.Do(ctx, call, &raw); err != nil {
		return nil, err
	}
	handle, err := decodePaymentHandle(raw)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindServer, Message: "malformed response from server", Err: err}
	}
	if handle.OrderNo == "" {
		handle.OrderNo = orderNo
	}
	if handle.PayType == 0 {
		handle.PayType = payType
	}

	s.mu.Lock()
	if gen == s.gen {
		stored := handle
		s.payment = &stored
	}
	s.mu.Unlock()
	s.logger.Info().Str("order_no", orderNo).Str("pay_type", payType.String()).Msg("payment started")
	return &handle, nil
}

// HandlePayCallback confirms a returning payment. A (orderNo, tradeNo) pair that
// was already confirmed is reported as success without resubmitting.
func (s *OrderService) HandlePayCallback(ctx context.Context, orderNo, tradeNo string) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return false, err
	}
	if strings.TrimSpace(tradeNo) == "" {
		return false, domain.NewValidation("trade number is required", nil)
	}

	claimed := false
	if s.dedup != nil {
		won, err := s.dedup.Claim(ctx, orderNo, tradeNo)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("order_no", orderNo).Msg("callback dedup claim failed, submitting anyway")
		case !won:
			s.logger.Info().Str("order_no", orderNo).Str("trade_no", tradeNo).Msg("payment callback already processed")
			return true, nil
		default:
			claimed = true
		}
	}

	call := orderCall(ports.EndpointOrderPayCallback, orderNo)
	call.Query.Set("tradeNo", tradeNo)
	if err := s.gw.Do(ctx, call, nil); err != nil {
		if claimed {
			if relErr := s.dedup.Release(ctx, orderNo, tradeNo); relErr != nil {
				s.logger.Warn().Err(relErr).Str("order_no", orderNo).Msg("failed to release callback claim")
			}
		}
		return false, err
	}
	s.transition(orderNo, domain.StatusPendingShipping)
	s.scheduleRefresh(ctx, true)
	return true, nil
}

func (s *OrderService) ConfirmReceipt(ctx context.Context, orderNo string) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return false, err
	}
	if status, ok := s.knownStatus(orderNo); ok && !status.CanTransitionTo(domain.StatusCompleted) {
		return false, transitionError(status, domain.StatusCompleted)
	}

	if err := s.gw.Do(ctx, orderCall(ports.EndpointOrderConfirm, orderNo), nil); err != nil {
		return false, err
	}
	s.transition(orderNo, domain.StatusCompleted)
	s.scheduleRefresh(ctx, true)
	return true, nil
}

// Delete removes an order from the visible set. Which statuses allow it is
// decided by the configured policy.
func (s *OrderService) Delete(ctx context.Context, orderNo string) (bool, error) {
	if !s.session.Authenticated() {
		return false, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return false, err
	}
	if status, ok := s.knownStatus(orderNo); ok && !s.policy.CanDelete(status) {
		return false, policyError("delete", status, s.policy)
	}

	if err := s.gw.Do(ctx, orderCall(ports.EndpointOrderDelete, orderNo), nil); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.current != nil && s.current.OrderNo == orderNo {
		s.current = nil
	}
	kept := s.orders[:0:0]
	for _, o := range s.orders {
		if o.OrderNo != orderNo {
			kept = append(kept, o)
		}
	}
	if len(kept) != len(s.orders) && s.total > 0 {
		s.total--
	}
	s.orders = kept
	s.mu.Unlock()

	s.logger.Info().Str("order_no", orderNo).Msg("order deleted")
	s.scheduleRefresh(ctx, true)
	return true, nil
}

// List fetches one page. A nil status lists every order; zero page or size take
// the defaults.
func (s *OrderService) List(ctx context.Context, query domain.ListOrdersQuery) (*domain.OrderPage, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Size <= 0 {
		query.Size = s.pageSize
	}
	empty := &domain.OrderPage{Records: []domain.OrderRecord{}, Page: query.Page, Size: query.Size}
	if !s.session.Authenticated() {
		return empty, nil
	}
	if query.Status != nil && !query.Status.Valid() {
		return nil, domain.NewValidation("unknown order status "+strconv.Itoa(int(*query.Status)), nil)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	page, err := s.fetchPage(ctx, ports.EndpointOrderList, query.Status, query.Page, query.Size)
	if err != nil {
		if domain.IsSoftAuth(err) {
			return empty, nil
		}
		return nil, err
	}

	s.mu.Lock()
	if gen == s.gen {
		s.orders = cloneOrders(page.Records)
		s.total = page.Total
		s.lastQuery = query
	}
	s.mu.Unlock()
	return page, nil
}

// Detail loads one order and makes it the current order.
func (s *OrderService) Detail(ctx context.Context, orderNo string) (*domain.OrderRecord, error) {
	if !s.session.Authenticated() {
		return nil, nil
	}
	if err := validateOrderNo(orderNo); err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	var record domain.OrderRecord
	if err := s.gw.Do(ctx, orderCall(ports.EndpointOrderDetail, orderNo), &record); err != nil {
		return nil, err
	}
	if record.OrderNo == "" {
		record.OrderNo = orderNo
	}

	s.mu.Lock()
	if gen == s.gen {
		stored := record.Clone()
		s.current = &stored
	}
	s.mu.Unlock()
	return &record, nil
}

// FetchStatusCounts runs one single-status query per status, in sequence. The
// queries share no consistency boundary, so a mutation landing between two of
// them can make Sum differ from the real total until the next fetch.
func (s *OrderService) FetchStatusCounts(ctx context.Context) (domain.StatusCounts, error) {
	if !s.session.Authenticated() {
		return domain.EmptyStatusCounts(), nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	counts := domain.EmptyStatusCounts()
	for _, status := range domain.AllStatuses {
		page, err := s.fetchPage(ctx, ports.EndpointOrderStatusCount, &status, 1, 1)
		if err != nil {
			if domain.IsSoftAuth(err) {
				return domain.EmptyStatusCounts(), nil
			}
			return domain.StatusCounts{}, fmt.Errorf("count %s orders: %w", status, err)
		}
		counts.Counts[status] = page.Total
	}
	counts.FetchedAt = s.now().UTC()

	s.mu.Lock()
	if gen == s.gen {
		s.counts = counts.Clone()
	}
	s.mu.Unlock()
	return counts, nil
}

// Init loads status counts for an authenticated session.
func (s *OrderService) Init(ctx context.Context) error {
	if !s.session.Authenticated() {
		return nil
	}
	_, err := s.FetchStatusCounts(ctx)
	return err
}

// Reset drops every order mirror; results of calls already in flight are
// discarded when they arrive.
func (s *OrderService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.current = nil
	s.orders = nil
	s.total = 0
	s.payment = nil
	s.counts = domain.EmptyStatusCounts()
	s.lastQuery = domain.ListOrdersQuery{Page: 1, Size: s.pageSize}
}

// Current returns a copy of the current order, or nil.
func (s *OrderService) Current() *domain.OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	out := s.current.Clone()
	return &out
}

func (s *OrderService) Orders() ([]domain.OrderRecord, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrders(s.orders), s.total
}

func (s *OrderService) Counts() domain.StatusCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts.Clone()
}

// Payment returns the handle of the last started payment, or nil.
func (s *OrderService) Payment() *domain.PaymentHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payment == nil {
		return nil
	}
	out := *s.payment
	return &out
}

func (s *OrderService) Policy() domain.OrderPolicy { return s.policy }

// knownStatus looks orderNo up in the local mirrors.
func (s *OrderService) knownStatus(orderNo string) (domain.OrderStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.OrderNo == orderNo {
		return s.current.Status, true
	}
	for _, o := range s.orders {
		if o.OrderNo == orderNo {
			return o.Status, true
		}
	}
	return 0, false
}

// transition moves cached copies of orderNo to next, never backwards.
func (s *OrderService) transition(orderNo string, next domain.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := false
	if s.current != nil && s.current.OrderNo == orderNo {
		if s.current.Status.CanTransitionTo(next) {
			s.current.Status = next
			moved = true
		} else {
			s.logger.Debug().Str("order_no", orderNo).Str("from", s.current.Status.String()).Str("to", next.String()).Msg("ignoring backwards local transition")
		}
	}
	for i := range s.orders {
		if s.orders[i].OrderNo == orderNo && s.orders[i].Status.CanTransitionTo(next) {
			s.orders[i].Status = next
			moved = true
		}
	}
	if moved {
		metrics.OrderTransitionsTotal.WithLabelValues(next.String()).Inc()
		s.logger.Info().Str("order_no", orderNo).Str("status", next.String()).Msg("order status updated locally")
	}
}

// scheduleRefresh re-reads the order mirrors after a mutation. relist also
// refreshes the last listed page.
func (s *OrderService) scheduleRefresh(ctx context.Context, relist bool) {
	s.scheduler.Schedule(ctx, ports.RefreshJob{
		Key: refreshKey,
		Run: func(ctx context.Context) error {
			var listErr error
			if relist {
				s.mu.Lock()
				q := s.lastQuery
				s.mu.Unlock()
				_, listErr = s.List(ctx, q)
			}
			_, countErr := s.FetchStatusCounts(ctx)
			return errors.Join(listErr, countErr)
		},
	})
}

func (s *OrderService) fetchPage(ctx context.Context, ep ports.Endpoint, status *domain.OrderStatus, page, size int) (*domain.OrderPage, error) {
	q := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	if status != nil {
		q.Set("status", strconv.Itoa(int(*status)))
	}
	var out domain.OrderPage
	if err := s.gw.Do(ctx, ports.Call{Endpoint: ep, Query: q}, &out); err != nil {
		return nil, err
	}
	if out.Records == nil {
		out.Records = []domain.OrderRecord{}
	}
	return &out, nil
}

func orderCall(ep ports.Endpoint, orderNo string) ports.Call {
	return ports.Call{Endpoint: ep, Query: url.Values{"orderNo": {orderNo}}}
}

// decodePaymentHandle accepts either an object or a bare string. A string that
// looks like a URL is the redirect target; anything else is an opaque form.
func decodePaymentHandle(raw json.RawMessage) (domain.PaymentHandle, error) {
	var handle domain.PaymentHandle
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return handle, nil
	case strings.HasPrefix(trimmed, "\""):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return handle, err
		}
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			handle.PayURL = s
		} else {
			handle.Form = s
		}
		return handle, nil
	default:
		err := json.Unmarshal(raw, &handle)
		return handle, err
	}
}

func transitionError(from, to domain.OrderStatus) error {
	return domain.NewValidation(
		fmt.Sprintf("order in status %s cannot move to %s", from, to),
		domain.ErrInvalidTransition,
	)
}

func policyError(op string, status domain.OrderStatus, policy domain.OrderPolicy) error {
	return domain.NewValidation(
		fmt.Sprintf("%s is not allowed for %s orders under the %s policy", op, status, policy.Name),
		domain.ErrPolicyDenied,
	)
}

func cloneOrders(in []domain.OrderRecord) []domain.OrderRecord {
	out := make([]domain.OrderRecord, len(in))
	for i, o := range in {
		out[i] = o.Clone()
	}
	return out
}

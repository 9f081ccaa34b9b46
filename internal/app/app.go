// Package app wires the gateway and the three services into one storefront
// client with a shared session.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/core/service"
	"github.com/mallfront/storefront-client/internal/infrastructure/db/memory"
	"github.com/mallfront/storefront-client/internal/infrastructure/gateway"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client

	// Store and Dedup default to in-memory implementations.
	Store ports.SessionStore
	Dedup ports.CallbackDedup
	// Scheduler defaults to running refreshes inline.
	Scheduler ports.RefreshScheduler

	Policy   domain.OrderPolicy
	PageSize int
	Logger   zerolog.Logger
}

type Client struct {
	Gateway *gateway.Client
	Session *service.SessionService
	Cart    *service.CartService
	Orders  *service.OrderService
}

func New(opts Options) *Client {
	log := opts.Logger
	store := opts.Store
	if store == nil {
		store = memory.NewSessionStore()
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = memory.NewCallbackDedup(24 * time.Hour)
	}

	gw := gateway.New(gateway.Config{
		BaseURL:    opts.BaseURL,
		Timeout:    opts.Timeout,
		HTTPClient: opts.HTTPClient,
	}, log.With().Str("component", "gateway").Logger())

	session := service.NewSessionService(gw, store, log.With().Str("component", "session").Logger())
	cart := service.NewCartService(gw, session, log.With().Str("component", "cart").Logger())
	orders := service.NewOrderService(gw, session, cart, opts.Scheduler, dedup, service.OrderConfig{
		Policy:   opts.Policy,
		PageSize: opts.PageSize,
	}, log.With().Str("component", "orders").Logger())

	gw.Attach(session)
	session.OnTeardown(func(context.Context) {
		cart.Reset()
		orders.Reset()
	})

	return &Client{Gateway: gw, Session: session, Cart: cart, Orders: orders}
}

// Start restores a persisted session and, when one is live, loads the cart and
// the order status counts. Load failures are logged, not returned.
func (c *Client) Start(ctx context.Context, log zerolog.Logger) error {
	if err := c.Session.Restore(ctx); err != nil {
		return err
	}
	if !c.Session.Authenticated() {
		log.Info().Msg("no persisted session, starting anonymous")
		return nil
	}
	if _, err := c.Session.ResolveIdentity(ctx); err != nil {
		log.Warn().Err(err).Msg("identity resolution failed")
	}
	if err := c.Cart.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("cart init failed")
	}
	if err := c.Orders.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("order counts init failed")
	}
	return nil
}

// Resync refreshes the cart and status counts for a live session.
func (c *Client) Resync(ctx context.Context) error {
	if !c.Session.Authenticated() {
		return nil
	}
	if _, err := c.Cart.FetchCart(ctx, true); err != nil {
		return err
	}
	_, err := c.Orders.FetchStatusCounts(ctx)
	return err
}

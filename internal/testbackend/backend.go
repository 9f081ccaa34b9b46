// Package testbackend is an in-memory storefront backend served with Echo. It
// speaks the same {code, message, data} envelope as the real service and lets
// tests inject failures, delays and hooks per route.
package testbackend

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

const defaultTokenTTL = 24 * time.Hour

// Options configures a Backend.
type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
	// NumericOrderNo sends every order number (create, detail, list, pay) as a
	// JSON number.
	NumericOrderNo bool
	Logger         zerolog.Logger
}

type Product struct {
	ID    int64
	Name  string
	Image string
	Price decimal.Decimal
	Stock int
}

type user struct {
	id       int64
	username string
	pwHash   []byte
	nickname string
	email    string
	phone    string
	role     domain.Role
	created  time.Time
}

type cartItem struct {
	productID int64
	quantity  int
	checked   bool
}

type order struct {
	record domain.OrderRecord
	userID int64
}

type fault struct {
	code    int
	message string
	times   int
}

// Backend holds all state behind one mutex. Handlers never block while holding it.
type Backend struct {
	e         *echo.Echo
	secret    []byte
	tokenTTL  time.Duration
	numericNo bool
	log       zerolog.Logger

	mu        sync.Mutex
	users     map[string]*user
	nextUser  int64
	products  map[int64]Product
	carts     map[int64][]*cartItem
	orders    map[string]*order
	orderSeq  []string
	nextOrder int64
	revoked   map[string]bool
	tokenGen  int
	faults    map[string]*fault
	delays    map[string]time.Duration
	hooks     map[string]func()
	hits      map[string]int
	now       func() time.Time
}

func New(opts Options) *Backend {
	secret := opts.JWTSecret
	if secret == "" {
		secret = "testbackend-secret"
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	b := &Backend{
		secret:    []byte(secret),
		tokenTTL:  ttl,
		numericNo: opts.NumericOrderNo,
		log:       opts.Logger,
		users:     make(map[string]*user),
		products:  make(map[int64]Product),
		carts:     make(map[int64][]*cartItem),
		orders:    make(map[string]*order),
		nextOrder: 1,
		revoked:   make(map[string]bool),
		faults:    make(map[string]*fault),
		delays:    make(map[string]time.Duration),
		hooks:     make(map[string]func()),
		hits:      make(map[string]int),
		now:       time.Now,
	}
	b.e = b.newRouter()
	return b
}

// ServeHTTP lets the backend be mounted directly in httptest.NewServer.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.e.ServeHTTP(w, r)
}

// Echo exposes the router, e.g. to serve it on a real listener.
func (b *Backend) Echo() *echo.Echo { return b.e }

func (b *Backend) newRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(b.log)
	e.Validator = newValidator()

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(b.instrument)

	api := e.Group("/api")
	auth := Auth(b.secret, b.isRevoked)

	api.POST("/auth/login", b.login)
	api.POST("/auth/register", b.register)
	api.GET("/auth/captcha", b.captcha)
	api.POST("/auth/logout", b.logout, auth)

	api.GET("/user/info", b.userInfo, auth)
	api.GET("/role/info", b.roleInfo, auth)
	api.GET("/role/check-admin", b.checkAdmin, auth, RBAC(domain.RoleAdmin))

	cart := api.Group("/user/cart", auth)
	cart.GET("", b.listCart)
	cart.GET("/count", b.cartCount)
	cart.GET("/exists", b.cartExists)
	cart.POST("/add", b.addToCart)
	cart.PUT("/update", b.updateCart)
	cart.DELETE("/delete", b.deleteFromCart)
	cart.DELETE("/delete/batch", b.deleteBatchFromCart)
	cart.DELETE("/clear", b.clearCart)
	cart.PUT("/checked", b.checkCart)
	cart.PUT("/checked/batch", b.checkBatchCart)
	cart.PUT("/checked/all", b.checkAllCart)

	orders := api.Group("/order", auth)
	orders.POST("/create", b.createOrder)
	orders.GET("/detail", b.orderDetail)
	orders.POST("/cancel", b.cancelOrder)
	orders.POST("/pay", b.payOrder)
	orders.POST("/pay/callback", b.payCallback)
	orders.POST("/confirm", b.confirmOrder)
	orders.DELETE("/delete", b.deleteOrder)
	orders.GET("/list", b.listOrders)

	return e
}

// instrument counts hits and applies injected hooks, delays and faults. Route
// keys are "METHOD /path" without the /api prefix, e.g. "GET /user/cart".
func (b *Backend) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := routeKey(c.Request().Method, c.Request().URL.Path)

		b.mu.Lock()
		b.hits[key]++
		hook := b.hooks[key]
		delay := b.delays[key]
		var injected *fault
		if f := b.faults[key]; f != nil && f.times != 0 {
			if f.times > 0 {
				f.times--
			}
			cp := *f
			injected = &cp
		}
		b.mu.Unlock()

		if hook != nil {
			hook()
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if injected != nil {
			return &apiError{code: injected.code, message: injected.message}
		}
		return next(c)
	}
}

// ── Test controls ─────────────────────────────────────────────────────────────

// AddUser creates an account and returns its id. It panics if password cannot
// be hashed (longer than 72 bytes).
func (b *Backend) AddUser(username, password string, role domain.Role) int64 {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(username, hash, "", "", role)
}

func (b *Backend) addUserLocked(username string, pwHash []byte, nickname, email string, role domain.Role) int64 {
	b.nextUser++
	b.users[username] = &user{
		id:       b.nextUser,
		username: username,
		pwHash:   pwHash,
		nickname: nickname,
		email:    email,
		role:     role,
		created:  b.now().UTC(),
	}
	return b.nextUser
}

func (b *Backend) AddProduct(p Product) {
	b.mu.Lock()
	b.products[p.ID] = p
	b.mu.Unlock()
}

// Fail makes the next times requests to route answer with code and message.
// A negative times fails every request until ClearFaults.
func (b *Backend) Fail(route string, code int, message string, times int) {
	b.mu.Lock()
	b.faults[route] = &fault{code: code, message: message, times: times}
	b.mu.Unlock()
}

func (b *Backend) ClearFaults() {
	b.mu.Lock()
	b.faults = make(map[string]*fault)
	b.mu.Unlock()
}

// Delay holds every request to route for d before handling it.
func (b *Backend) Delay(route string, d time.Duration) {
	b.mu.Lock()
	b.delays[route] = d
	b.mu.Unlock()
}

// OnRequest runs fn at the start of every request to route, before faults apply.
// fn must not call back into the backend over HTTP on the same route.
func (b *Backend) OnRequest(route string, fn func()) {
	b.mu.Lock()
	if fn == nil {
		delete(b.hooks, route)
	} else {
		b.hooks[route] = fn
	}
	b.mu.Unlock()
}

func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// TotalHits counts every request received on any route.
func (b *Backend) TotalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.hits {
		n += v
	}
	return n
}

// RevokeAll invalidates every token issued so far.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	b.tokenGen++
	b.mu.Unlock()
}

// SetOrderStatus forces an order into status, e.g. to simulate shipping.
func (b *Backend) SetOrderStatus(orderNo string, status domain.OrderStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderNo]
	if !ok {
		return false
	}
	o.record.Status = status
	return true
}

// OrderStatus reports the backend's view of an order.
func (b *Backend) OrderStatus(orderNo string) (domain.OrderStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderNo]
	if !ok {
		return 0, false
	}
	return o.record.Status, true
}

// CartLines returns productID → quantity for a user.
func (b *Backend) CartLines(userID int64) map[int64]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]int)
	for _, it := range b.carts[userID] {
		out[it.productID] = it.quantity
	}
	return out
}

func routeKey(method, path string) string {
	const prefix = "/api"
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		path = path[len(prefix):]
	}
	return method + " " + path
}

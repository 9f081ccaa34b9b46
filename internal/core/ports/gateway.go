package ports

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Endpoint describes one backend operation and how the gateway treats it.
type Endpoint struct {
	Name   string
	Method string
	Path   string
	// Soft marks read paths that tolerate an identity-propagation race: a 401 triggers
	// one identity re-resolution and one retry, then an empty default.
	Soft bool
	// Timeout overrides the gateway default when non-zero.
	Timeout time.Duration
}

// Call is a single request through the gateway.
type Call struct {
	Endpoint Endpoint
	Query    url.Values
	Body     any
}

// Gateway sends calls to the backend and decodes the envelope's data into out
// (out may be nil). Failures are *domain.Error values.
type Gateway interface {
	Do(ctx context.Context, call Call, out any) error
}

// SessionHooks is what the gateway needs from the session manager.
type SessionHooks interface {
	CurrentToken() string
	// ReResolve runs one identity resolution ahead of a soft-auth retry.
	ReResolve(ctx context.Context) error
	// Teardown ends the session after a hard auth failure. It is a no-op when token
	// is no longer the current one, so a late 401 cannot end a newer session.
	Teardown(ctx context.Context, token, reason string)
}

// Endpoint catalog.
var (
	EndpointLogin      = Endpoint{Name: "auth.login", Method: http.MethodPost, Path: "/auth/login"}
	EndpointRegister   = Endpoint{Name: "auth.register", Method: http.MethodPost, Path: "/auth/register"}
	EndpointLogout     = Endpoint{Name: "auth.logout", Method: http.MethodPost, Path: "/auth/logout"}
	EndpointCaptcha    = Endpoint{Name: "auth.captcha", Method: http.MethodGet, Path: "/auth/captcha", Timeout: 5 * time.Second}
	EndpointUserInfo   = Endpoint{Name: "user.info", Method: http.MethodGet, Path: "/user/info"}
	EndpointRoleInfo   = Endpoint{Name: "role.info", Method: http.MethodGet, Path: "/role/info", Soft: true}
	EndpointCheckAdmin = Endpoint{Name: "role.check_admin", Method: http.MethodGet, Path: "/role/check-admin"}

	EndpointCartList         = Endpoint{Name: "cart.list", Method: http.MethodGet, Path: "/user/cart", Soft: true}
	EndpointCartCount        = Endpoint{Name: "cart.count", Method: http.MethodGet, Path: "/user/cart/count", Soft: true}
	EndpointCartAdd          = Endpoint{Name: "cart.add", Method: http.MethodPost, Path: "/user/cart/add"}
	EndpointCartUpdate       = Endpoint{Name: "cart.update", Method: http.MethodPut, Path: "/user/cart/update"}
	EndpointCartDelete       = Endpoint{Name: "cart.delete", Method: http.MethodDelete, Path: "/user/cart/delete"}
	EndpointCartDeleteBatch  = Endpoint{Name: "cart.delete_batch", Method: http.MethodDelete, Path: "/user/cart/delete/batch"}
	EndpointCartClear        = Endpoint{Name: "cart.clear", Method: http.MethodDelete, Path: "/user/cart/clear"}
	EndpointCartChecked      = Endpoint{Name: "cart.checked", Method: http.MethodPut, Path: "/user/cart/checked"}
	EndpointCartCheckedBatch = Endpoint{Name: "cart.checked_batch", Method: http.MethodPut, Path: "/user/cart/checked/batch"}
	EndpointCartCheckedAll   = Endpoint{Name: "cart.checked_all", Method: http.MethodPut, Path: "/user/cart/checked/all"}
	EndpointCartExists       = Endpoint{Name: "cart.exists", Method: http.MethodGet, Path: "/user/cart/exists", Soft: true}

	EndpointOrderCreate      = Endpoint{Name: "order.create", Method: http.MethodPost, Path: "/order/create"}
	EndpointOrderDetail      = Endpoint{Name: "order.detail", Method: http.MethodGet, Path: "/order/detail"}
	EndpointOrderCancel      = Endpoint{Name: "order.cancel", Method: http.MethodPost, Path: "/order/cancel"}
	EndpointOrderPay         = Endpoint{Name: "order.pay", Method: http.MethodPost, Path: "/order/pay"}
	EndpointOrderConfirm     = Endpoint{Name: "order.confirm", Method: http.MethodPost, Path: "/order/confirm"}
	EndpointOrderDelete      = Endpoint{Name: "order.delete", Method: http.MethodDelete, Path: "/order/delete"}
	EndpointOrderList        = Endpoint{Name: "order.list", Method: http.MethodGet, Path: "/order/list", Soft: true}
	EndpointOrderStatusCount = Endpoint{Name: "order.status_count", Method: http.MethodGet, Path: "/order/list", Soft: true, Timeout: 10 * time.Second}
	EndpointOrderPayCallback = Endpoint{Name: "order.pay_callback", Method: http.MethodPost, Path: "/order/pay/callback"}
)

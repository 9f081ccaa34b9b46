package ports

import (
	"context"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

// RefreshJob is a deferred re-read scheduled after a mutation.
type RefreshJob struct {
	// Key groups jobs that must run in order (same key, same worker).
	Key string
	Run func(ctx context.Context) error
}

// RefreshScheduler runs refresh jobs, inline or on background workers.
type RefreshScheduler interface {
	Schedule(ctx context.Context, job RefreshJob)
}

// CallbackDedup makes sure each payment callback is submitted once.
type CallbackDedup interface {
	// Claim reserves (orderNo, tradeNo) atomically. false means another caller
	// already holds or completed it.
	Claim(ctx context.Context, orderNo, tradeNo string) (bool, error)
	// Release drops a claim whose submission failed so the callback can be retried.
	Release(ctx context.Context, orderNo, tradeNo string) error
}

// OrderService defines the order lifecycle manager's use cases.
type OrderService interface {
	Create(ctx context.Context, input domain.CreateOrderInput) (string, error)
	Cancel(ctx context.Context, orderNo string) (bool, error)
	Pay(ctx context.Context, orderNo string, payType domain.PayType) (*domain.PaymentHandle, error)
	HandlePayCallback(ctx context.Context, orderNo, tradeNo string) (bool, error)
	ConfirmReceipt(ctx context.Context, orderNo string) (bool, error)
	Delete(ctx context.Context, orderNo string) (bool, error)
	List(ctx context.Context, query domain.ListOrdersQuery) (*domain.OrderPage, error)
	Detail(ctx context.Context, orderNo string) (*domain.OrderRecord, error)
	FetchStatusCounts(ctx context.Context) (domain.StatusCounts, error)
}

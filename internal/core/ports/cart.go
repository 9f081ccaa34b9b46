package ports

import (
	"context"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

// CartResyncer is the part of the cart engine the order manager depends on.
type CartResyncer interface {
	FetchCart(ctx context.Context, silent bool) (*domain.CartAggregate, error)
}

// CartService defines the cart consistency engine's use cases. Every operation
// returns the empty default with no I/O when the session is unauthenticated.
type CartService interface {
	CartResyncer
	AddItem(ctx context.Context, productID int64, quantity int) (bool, error)
	UpdateQuantity(ctx context.Context, productID int64, quantity int) (bool, error)
	RemoveItem(ctx context.Context, productID int64) (bool, error)
	RemoveItems(ctx context.Context, productIDs []int64) (bool, error)
	Clear(ctx context.Context) (bool, error)
	SetChecked(ctx context.Context, productID int64, checked bool) (bool, error)
	SetCheckedBatch(ctx context.Context, productIDs []int64, checked bool) (bool, error)
	SetAllChecked(ctx context.Context, checked bool) (bool, error)
	ExistsInCart(ctx context.Context, productID int64) (bool, error)
}

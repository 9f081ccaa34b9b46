package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func wireLine(id int64, price string, qty int, checked bool) cartLineDTO {
	c := 0
	if checked {
		c = 1
	}
	return cartLineDTO{
		ProductID:   id,
		ProductName: fmt.Sprintf("product-%d", id),
		Price:       decimal.RequireFromString(price),
		Quantity:    qty,
		Checked:     c,
	}
}

// twoLineCart has product 1 (10.00 x2, checked) and product 2 (5.00 x1, unchecked).
func twoLineCart() cartDTO {
	return cartDTO{
		CartItems: []cartLineDTO{
			wireLine(1, "10.00", 2, true),
			wireLine(2, "5.00", 1, false),
		},
		SelectedCount:      2,
		SelectedTotalPrice: decimal.RequireFromString("20.00"),
		TotalPrice:         decimal.RequireFromString("25.00"),
	}
}

func newLoadedCart(t *testing.T, gw *stubGateway, dto cartDTO) *CartService {
	t.Helper()
	gw.reply(ports.EndpointCartList, dto)
	svc := NewCartService(gw, authedSession(), discardLogger)
	if _, err := svc.FetchCart(context.Background(), false); err != nil {
		t.Fatalf("FetchCart returned error: %v", err)
	}
	return svc
}

func fingerprint(c domain.CartAggregate) string {
	var b strings.Builder
	for _, l := range c.Lines {
		fmt.Fprintf(&b, "%d:%s:%d:%t:%s|", l.ProductID, l.UnitPrice, l.Quantity, l.Checked, l.LineTotal)
	}
	fmt.Fprintf(&b, "sc=%d st=%s tp=%s all=%t",
		c.Totals.SelectedCount, c.Totals.SelectedTotalPrice, c.Totals.TotalPrice, c.Totals.AllChecked)
	return b.String()
}

func assertInvariants(t *testing.T, c domain.CartAggregate) {
	t.Helper()
	total, selected := decimal.Zero, decimal.Zero
	count := 0
	all := len(c.Lines) > 0
	for _, l := range c.Lines {
		lt := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		if !l.LineTotal.Equal(lt) {
			t.Fatalf("line %d: lineTotal %s != %s", l.ProductID, l.LineTotal, lt)
		}
		total = total.Add(lt)
		if l.Checked {
			selected = selected.Add(lt)
			count += l.Quantity
		} else {
			all = false
		}
	}
	if !c.Totals.TotalPrice.Equal(total) || !c.Totals.SelectedTotalPrice.Equal(selected) ||
		c.Totals.SelectedCount != count || c.Totals.AllChecked != all {
		t.Fatalf("derived totals out of sync: %+v", c.Totals)
	}
}

func assertTotals(t *testing.T, c domain.CartAggregate, total, selected string, count int, all bool) {
	t.Helper()
	if !c.Totals.TotalPrice.Equal(decimal.RequireFromString(total)) {
		t.Fatalf("totalPrice: want %s, got %s", total, c.Totals.TotalPrice)
	}
	if !c.Totals.SelectedTotalPrice.Equal(decimal.RequireFromString(selected)) {
		t.Fatalf("selectedTotalPrice: want %s, got %s", selected, c.Totals.SelectedTotalPrice)
	}
	if c.Totals.SelectedCount != count {
		t.Fatalf("selectedCount: want %d, got %d", count, c.Totals.SelectedCount)
	}
	if c.Totals.AllChecked != all {
		t.Fatalf("allChecked: want %t, got %t", all, c.Totals.AllChecked)
	}
}

// ---------------------------------------------------------------------------
// Fetch
// ---------------------------------------------------------------------------

func TestCartService_FetchCart_DerivesTotals(t *testing.T) {
	svc := newLoadedCart(t, newStubGateway(), twoLineCart())

	snap := svc.Snapshot()
	assertTotals(t, snap, "25.00", "20.00", 2, false)
	assertInvariants(t, snap)
	if !svc.Signals().Initialized {
		t.Fatal("expected cart to be initialized")
	}
}

func TestCartService_FetchCart_Idempotent(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())
	first := fingerprint(svc.Snapshot())

	if _, err := svc.FetchCart(context.Background(), false); err != nil {
		t.Fatalf("FetchCart returned error: %v", err)
	}
	if second := fingerprint(svc.Snapshot()); first != second {
		t.Fatalf("fetch is not idempotent:\n%s\n%s", first, second)
	}
}

func TestCartService_FetchCart_KeepsDerivedTotalsOnDivergence(t *testing.T) {
	dto := twoLineCart()
	dto.TotalPrice = decimal.RequireFromString("999.99")
	dto.AllChecked = true
	svc := newLoadedCart(t, newStubGateway(), dto)

	assertTotals(t, svc.Snapshot(), "25.00", "20.00", 2, false)
}

func TestCartService_FetchCart_DropsDuplicateLines(t *testing.T) {
	dto := twoLineCart()
	dto.CartItems = append(dto.CartItems, wireLine(1, "10.00", 9, true), wireLine(3, "1.00", 0, true))
	svc := newLoadedCart(t, newStubGateway(), dto)

	snap := svc.Snapshot()
	if len(snap.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(snap.Lines))
	}
	assertTotals(t, snap, "25.00", "20.00", 2, false)
}

func TestCartService_FetchCart_SoftAuthLeavesMirror(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())
	gw.fail(ports.EndpointCartList, errSoftAuth())

	got, err := svc.FetchCart(context.Background(), false)
	if err != nil {
		t.Fatalf("soft auth failure must not propagate, got %v", err)
	}
	if len(got.Lines) != 0 {
		t.Fatal("expected the empty default")
	}
	if len(svc.Snapshot().Lines) != 2 {
		t.Fatal("soft auth failure must not wipe the mirror")
	}
}

func TestCartService_FetchCart_SilentSuppressesSignals(t *testing.T) {
	gw := newStubGateway()
	gw.fail(ports.EndpointCartList, errServer())
	svc := NewCartService(gw, authedSession(), discardLogger)

	if _, err := svc.FetchCart(context.Background(), true); !errors.Is(err, domain.ErrServer) {
		t.Fatalf("expected server failure, got %v", err)
	}
	if svc.Signals().LastError != nil {
		t.Fatal("silent fetch must not record LastError")
	}

	if _, err := svc.FetchCart(context.Background(), false); err == nil {
		t.Fatal("expected error")
	}
	if svc.Signals().LastError == nil {
		t.Fatal("non-silent fetch must record LastError")
	}
}

func TestCartService_Init_FetchesOnce(t *testing.T) {
	gw := newStubGateway()
	gw.reply(ports.EndpointCartList, twoLineCart())
	svc := NewCartService(gw, authedSession(), discardLogger)

	for i := 0; i < 3; i++ {
		if err := svc.Init(context.Background()); err != nil {
			t.Fatalf("Init returned error: %v", err)
		}
	}
	if n := gw.count(ports.EndpointCartList); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestCartService_SetAllChecked_SelectsEverything(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	ok, err := svc.SetAllChecked(context.Background(), true)
	if err != nil || !ok {
		t.Fatalf("SetAllChecked: (%t, %v)", ok, err)
	}
	snap := svc.Snapshot()
	assertTotals(t, snap, "25.00", "25.00", 3, true)
	assertInvariants(t, snap)

	call, _ := gw.last(ports.EndpointCartCheckedAll)
	if call.Query.Get("checked") != "1" {
		t.Fatalf("expected checked=1 on the wire, got %q", call.Query.Get("checked"))
	}
}

func TestCartService_AddItem_ValidationNeverDispatches(t *testing.T) {
	gw := newStubGateway()
	svc := NewCartService(gw, authedSession(), discardLogger)

	for _, tc := range []struct {
		productID int64
		qty       int
	}{{0, 1}, {1, 0}, {1, -3}} {
		ok, err := svc.AddItem(context.Background(), tc.productID, tc.qty)
		if ok || !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("AddItem(%d, %d): expected validation failure, got (%t, %v)", tc.productID, tc.qty, ok, err)
		}
	}
	if gw.total() != 0 {
		t.Fatalf("expected no network calls, got %d", gw.total())
	}
}

func TestCartService_AddItem_ResyncsInsteadOfPatching(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	after := twoLineCart()
	after.CartItems = append(after.CartItems, wireLine(3, "2.50", 2, true))
	gw.reply(ports.EndpointCartList, after)

	ok, err := svc.AddItem(context.Background(), 3, 2)
	if err != nil || !ok {
		t.Fatalf("AddItem: (%t, %v)", ok, err)
	}
	if gw.count(ports.EndpointCartList) != 2 {
		t.Fatal("expected a full resync after add")
	}
	assertTotals(t, svc.Snapshot(), "30.00", "25.00", 4, false)
}

func TestCartService_UpdateQuantity_PatchesAndRecomputes(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	ok, err := svc.UpdateQuantity(context.Background(), 1, 5)
	if err != nil || !ok {
		t.Fatalf("UpdateQuantity: (%t, %v)", ok, err)
	}
	snap := svc.Snapshot()
	assertTotals(t, snap, "55.00", "50.00", 5, false)
	assertInvariants(t, snap)
	if gw.count(ports.EndpointCartList) != 1 {
		t.Fatal("quantity update must patch locally without a resync")
	}
}

func TestCartService_UpdateQuantity_FailureLeavesMirror(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())
	before := fingerprint(svc.Snapshot())
	gw.fail(ports.EndpointCartUpdate, &domain.Error{Kind: domain.KindRejected, Message: "out of stock", Code: 400})

	ok, err := svc.UpdateQuantity(context.Background(), 1, 50)
	if ok || domain.KindOf(err) != domain.KindRejected {
		t.Fatalf("expected rejection, got (%t, %v)", ok, err)
	}
	if fingerprint(svc.Snapshot()) != before {
		t.Fatal("failed mutation must not touch the mirror")
	}
}

func TestCartService_RemoveBatchMatchesSingle(t *testing.T) {
	single := newLoadedCart(t, newStubGateway(), twoLineCart())
	batch := newLoadedCart(t, newStubGateway(), twoLineCart())

	if ok, err := single.RemoveItem(context.Background(), 1); err != nil || !ok {
		t.Fatalf("RemoveItem: (%t, %v)", ok, err)
	}
	if ok, err := batch.RemoveItems(context.Background(), []int64{1}); err != nil || !ok {
		t.Fatalf("RemoveItems: (%t, %v)", ok, err)
	}
	if a, b := fingerprint(single.Snapshot()), fingerprint(batch.Snapshot()); a != b {
		t.Fatalf("batch and single removal diverge:\n%s\n%s", a, b)
	}
	assertTotals(t, single.Snapshot(), "5.00", "0", 0, false)
}

func TestCartService_RemoveItems_EncodesEveryID(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	if _, err := svc.RemoveItems(context.Background(), []int64{1, 2}); err != nil {
		t.Fatalf("RemoveItems returned error: %v", err)
	}
	call, _ := gw.last(ports.EndpointCartDeleteBatch)
	if got := call.Query["productIds"]; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected productIds: %v", got)
	}
	snap := svc.Snapshot()
	assertTotals(t, snap, "0", "0", 0, false)
}

func TestCartService_Clear_ResetsTotals(t *testing.T) {
	svc := newLoadedCart(t, newStubGateway(), twoLineCart())

	if ok, err := svc.Clear(context.Background()); err != nil || !ok {
		t.Fatalf("Clear: (%t, %v)", ok, err)
	}
	snap := svc.Snapshot()
	if len(snap.Lines) != 0 {
		t.Fatal("expected no lines")
	}
	assertTotals(t, snap, "0", "0", 0, false)
}

func TestCartService_SetChecked_And_Batch(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	if _, err := svc.SetChecked(context.Background(), 1, false); err != nil {
		t.Fatalf("SetChecked returned error: %v", err)
	}
	assertTotals(t, svc.Snapshot(), "25.00", "0", 0, false)

	if _, err := svc.SetCheckedBatch(context.Background(), []int64{1, 2}, true); err != nil {
		t.Fatalf("SetCheckedBatch returned error: %v", err)
	}
	snap := svc.Snapshot()
	assertTotals(t, snap, "25.00", "25.00", 3, true)
	assertInvariants(t, snap)

	call, _ := gw.last(ports.EndpointCartChecked)
	if call.Query.Get("checked") != "0" || call.Query.Get("productId") != "1" {
		t.Fatalf("unexpected query: %v", call.Query)
	}
}

func TestCartService_InvariantsHoldAcrossOperations(t *testing.T) {
	gw := newStubGateway()
	dto := twoLineCart()
	dto.CartItems = append(dto.CartItems, wireLine(3, "0.10", 3, true), wireLine(4, "19.99", 1, false))
	svc := newLoadedCart(t, gw, dto)
	ctx := context.Background()

	steps := []func() (bool, error){
		func() (bool, error) { return svc.UpdateQuantity(ctx, 3, 7) },
		func() (bool, error) { return svc.SetChecked(ctx, 4, true) },
		func() (bool, error) { return svc.SetCheckedBatch(ctx, []int64{1, 3}, false) },
		func() (bool, error) { return svc.RemoveItem(ctx, 2) },
		func() (bool, error) { return svc.SetAllChecked(ctx, true) },
		func() (bool, error) { return svc.UpdateQuantity(ctx, 4, 2) },
		func() (bool, error) { return svc.RemoveItems(ctx, []int64{1, 99}) },
		func() (bool, error) { return svc.SetAllChecked(ctx, false) },
	}
	for i, step := range steps {
		if ok, err := step(); err != nil || !ok {
			t.Fatalf("step %d: (%t, %v)", i, ok, err)
		}
		assertInvariants(t, svc.Snapshot())
	}
	assertTotals(t, svc.Snapshot(), "40.68", "0", 0, false)
}

// ---------------------------------------------------------------------------
// Unauthenticated
// ---------------------------------------------------------------------------

func TestCartService_Unauthenticated_NoNetwork(t *testing.T) {
	gw := newStubGateway()
	svc := NewCartService(gw, &stubSession{}, discardLogger)
	ctx := context.Background()

	results := map[string]func() (bool, error){
		"add":         func() (bool, error) { return svc.AddItem(ctx, 1, 1) },
		"update":      func() (bool, error) { return svc.UpdateQuantity(ctx, 1, 2) },
		"remove":      func() (bool, error) { return svc.RemoveItem(ctx, 1) },
		"removeBatch": func() (bool, error) { return svc.RemoveItems(ctx, []int64{1}) },
		"clear":       func() (bool, error) { return svc.Clear(ctx) },
		"checked":     func() (bool, error) { return svc.SetChecked(ctx, 1, true) },
		"batch":       func() (bool, error) { return svc.SetCheckedBatch(ctx, []int64{1}, true) },
		"all":         func() (bool, error) { return svc.SetAllChecked(ctx, true) },
		"exists":      func() (bool, error) { return svc.ExistsInCart(ctx, 1) },
	}
	for name, fn := range results {
		if ok, err := fn(); ok || err != nil {
			t.Fatalf("%s: expected (false, nil), got (%t, %v)", name, ok, err)
		}
	}
	cart, err := svc.FetchCart(ctx, false)
	if err != nil || len(cart.Lines) != 0 {
		t.Fatalf("FetchCart: expected empty default, got (%v, %v)", cart, err)
	}
	if n, err := svc.Count(ctx); n != 0 || err != nil {
		t.Fatalf("Count: expected (0, nil), got (%d, %v)", n, err)
	}
	if gw.total() != 0 {
		t.Fatalf("expected zero network calls, got %d", gw.total())
	}
}

// ---------------------------------------------------------------------------
// Exists / Count
// ---------------------------------------------------------------------------

func TestCartService_ExistsInCart(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())
	gw.reply(ports.EndpointCartExists, true)

	ok, err := svc.ExistsInCart(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("expected local hit, got (%t, %v)", ok, err)
	}
	if gw.count(ports.EndpointCartExists) != 0 {
		t.Fatal("local hit must not reach the network")
	}

	ok, err = svc.ExistsInCart(context.Background(), 77)
	if err != nil || !ok {
		t.Fatalf("expected remote answer, got (%t, %v)", ok, err)
	}
	if gw.count(ports.EndpointCartExists) != 1 {
		t.Fatal("expected a scoped network check")
	}

	gw.fail(ports.EndpointCartExists, errSoftAuth())
	if ok, err := svc.ExistsInCart(context.Background(), 78); ok || err != nil {
		t.Fatalf("soft auth failure must yield (false, nil), got (%t, %v)", ok, err)
	}
}

func TestCartService_Count(t *testing.T) {
	gw := newStubGateway()
	gw.reply(ports.EndpointCartCount, 6)
	svc := NewCartService(gw, authedSession(), discardLogger)

	n, err := svc.Count(context.Background())
	if err != nil || n != 6 {
		t.Fatalf("expected (6, nil), got (%d, %v)", n, err)
	}
}

// ---------------------------------------------------------------------------
// Interleavings
// ---------------------------------------------------------------------------

func TestCartService_OlderResponseDoesNotOverwriteNewerMutation(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	started := make(chan struct{})
	release := make(chan struct{})
	gw.on(ports.EndpointCartUpdate, func(call ports.Call) (any, error) {
		if call.Query.Get("quantity") == "2" {
			close(started)
			<-release
		}
		return nil, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if ok, err := svc.UpdateQuantity(context.Background(), 2, 2); err != nil || !ok {
			t.Errorf("first update: (%t, %v)", ok, err)
		}
	}()
	<-started

	if ok, err := svc.UpdateQuantity(context.Background(), 2, 4); err != nil || !ok {
		t.Fatalf("second update: (%t, %v)", ok, err)
	}
	close(release)
	wg.Wait()

	snap := svc.Snapshot()
	if line := snap.Lines[snap.Index(2)]; line.Quantity != 4 {
		t.Fatalf("expected the newer quantity 4 to win locally, got %d", line.Quantity)
	}
	assertInvariants(t, snap)
	if !svc.Signals().Stale {
		t.Fatal("expected the mirror to be flagged stale until the next resync")
	}

	if _, err := svc.FetchCart(context.Background(), true); err != nil {
		t.Fatalf("FetchCart returned error: %v", err)
	}
	if svc.Signals().Stale {
		t.Fatal("a full resync must clear the stale flag")
	}
}

func TestCartService_ResyncDroppedWhenLocalMutationLandsFirst(t *testing.T) {
	gw := newStubGateway()
	svc := newLoadedCart(t, gw, twoLineCart())

	started := make(chan struct{})
	release := make(chan struct{})
	gw.on(ports.EndpointCartList, func(ports.Call) (any, error) {
		close(started)
		<-release
		return twoLineCart(), nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.FetchCart(context.Background(), true); err != nil {
			t.Errorf("FetchCart returned error: %v", err)
		}
	}()
	<-started

	if _, err := svc.SetChecked(context.Background(), 2, true); err != nil {
		t.Fatalf("SetChecked returned error: %v", err)
	}
	close(release)
	<-done

	assertTotals(t, svc.Snapshot(), "25.00", "25.00", 3, true)
	if !svc.Signals().Stale {
		t.Fatal("expected the dropped resync to flag the mirror stale")
	}
}

func TestCartService_ResetDiscardsInFlightResync(t *testing.T) {
	gw := newStubGateway()
	sess := authedSession()
	svc := NewCartService(gw, sess, discardLogger)

	started := make(chan struct{})
	release := make(chan struct{})
	gw.on(ports.EndpointCartList, func(ports.Call) (any, error) {
		close(started)
		<-release
		return twoLineCart(), nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.FetchCart(context.Background(), false)
	}()
	<-started
	sess.authed.Store(false)
	svc.Reset()
	close(release)
	<-done

	if len(svc.Snapshot().Lines) != 0 {
		t.Fatal("a resync dispatched before logout must not repopulate the cart")
	}
	if svc.Signals().Initialized {
		t.Fatal("expected cart to be uninitialized after reset")
	}
}

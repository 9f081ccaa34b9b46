package testbackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	b := New(Options{Logger: zerolog.Nop()})
	b.AddUser("alice", "secret1", domain.RoleUser)
	b.AddProduct(Product{ID: 1, Name: "Notebook", Price: decimal.RequireFromString("10.00"), Stock: 5})

	rec := serve(b, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret1"}`)
	var env struct {
		Code int `json:"code"`
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil || env.Data.Token == "" {
		t.Fatalf("login failed: %s", rec.Body.String())
	}
	return b, env.Data.Token
}

func serve(b *Backend, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)
	return rec
}

func TestBackend_LoginRejectsBadPassword(t *testing.T) {
	b, _ := newTestBackend(t)

	rec := serve(b, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"nope"}`)
	env := decodeEnvelope(t, rec)
	if rec.Code != http.StatusOK || env.Code != http.StatusBadRequest {
		t.Fatalf("expected business rejection, got http %d code %d", rec.Code, env.Code)
	}
}

func TestBackend_PasswordsStoredAsBcryptHashes(t *testing.T) {
	b, _ := newTestBackend(t)

	rec := serve(b, http.MethodPost, "/api/auth/register", "",
		`{"username":"bob","password":"secret2","confirmPassword":"secret2"}`)
	if env := decodeEnvelope(t, rec); env.Code != codeOK {
		t.Fatalf("register failed: %+v", env)
	}

	b.mu.Lock()
	alice, bob := b.users["alice"].pwHash, b.users["bob"].pwHash
	b.mu.Unlock()
	for name, hash := range map[string][]byte{"alice": alice, "bob": bob} {
		if _, err := bcrypt.Cost(hash); err != nil {
			t.Fatalf("%s: stored password is not a bcrypt hash: %v", name, err)
		}
	}

	rec = serve(b, http.MethodPost, "/api/auth/login", "", `{"username":"bob","password":"secret2"}`)
	if env := decodeEnvelope(t, rec); env.Code != codeOK {
		t.Fatalf("login with registered password failed: %+v", env)
	}
}

func TestBackend_FaultInjectionCountsDown(t *testing.T) {
	b, token := newTestBackend(t)
	b.Fail("GET /user/cart", http.StatusInternalServerError, "boom", 2)

	for i := 0; i < 2; i++ {
		rec := serve(b, http.MethodGet, "/api/user/cart", token, "")
		if env := decodeEnvelope(t, rec); env.Code != http.StatusInternalServerError {
			t.Fatalf("attempt %d: expected injected 500, got %d", i, env.Code)
		}
	}
	rec := serve(b, http.MethodGet, "/api/user/cart", token, "")
	if env := decodeEnvelope(t, rec); env.Code != codeOK {
		t.Fatalf("fault should be spent, got %d", env.Code)
	}
	if n := b.Hits("GET /user/cart"); n != 3 {
		t.Fatalf("expected 3 hits, got %d", n)
	}
}

func TestBackend_RevokeAllInvalidatesIssuedTokens(t *testing.T) {
	b, token := newTestBackend(t)
	b.RevokeAll()

	rec := serve(b, http.MethodGet, "/api/user/info", token, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBackend_LogoutRevokesOnlyThatToken(t *testing.T) {
	b, first := newTestBackend(t)
	rec := serve(b, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret1"}`)
	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	second := env.Data.Token

	serve(b, http.MethodPost, "/api/auth/logout", first, "")

	if rec := serve(b, http.MethodGet, "/api/user/info", first, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("logged-out token still accepted: %d", rec.Code)
	}
	if rec := serve(b, http.MethodGet, "/api/user/info", second, ""); rec.Code != http.StatusOK {
		t.Fatalf("other session affected: %d", rec.Code)
	}
}

func TestBackend_CartAddRespectsStock(t *testing.T) {
	b, token := newTestBackend(t)

	rec := serve(b, http.MethodPost, "/api/user/cart/add?productId=1&quantity=6", token, "")
	if env := decodeEnvelope(t, rec); env.Code != http.StatusBadRequest || env.Message != "insufficient stock" {
		t.Fatalf("expected stock rejection, got %+v", env)
	}
	rec = serve(b, http.MethodPost, "/api/user/cart/add?productId=9&quantity=1", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
}

func TestBackend_OrderTransitionsFollowStateMachine(t *testing.T) {
	b, token := newTestBackend(t)

	rec := serve(b, http.MethodPost, "/api/order/create", token, `{"productIds":[1],"addressId":7}`)
	var created struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.Data == "" {
		t.Fatalf("create failed: %s", rec.Body.String())
	}
	orderNo := created.Data

	rec = serve(b, http.MethodPost, "/api/order/confirm?orderNo="+orderNo, token, "")
	if env := decodeEnvelope(t, rec); env.Code != http.StatusBadRequest {
		t.Fatalf("confirm from PENDING_PAYMENT must be rejected, got %d", env.Code)
	}

	serve(b, http.MethodPost, "/api/order/pay/callback?orderNo="+orderNo+"&tradeNo=T1", token, "")
	if s, _ := b.OrderStatus(orderNo); s != domain.StatusPendingShipping {
		t.Fatalf("expected PENDING_SHIPPING, got %s", s)
	}
	rec = serve(b, http.MethodPost, "/api/order/pay/callback?orderNo="+orderNo+"&tradeNo=T1", token, "")
	if env := decodeEnvelope(t, rec); env.Code != http.StatusBadRequest {
		t.Fatalf("second callback must be rejected, got %d", env.Code)
	}
}

func TestBackend_DelayHoldsRequest(t *testing.T) {
	b, token := newTestBackend(t)
	b.Delay("GET /user/cart", 50*time.Millisecond)

	start := time.Now()
	rec := serve(b, http.MethodGet, "/api/user/cart", token, "")
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("delay not applied")
	}
	if env := decodeEnvelope(t, rec); env.Code != codeOK {
		t.Fatalf("delayed request failed: %d", env.Code)
	}
}

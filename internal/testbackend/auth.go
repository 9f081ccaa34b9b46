package testbackend

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
	ctxRole     = "role"
	ctxTokenID  = "token_id"
)

type claims struct {
	UserID   int64       `json:"uid"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	Gen      int         `json:"gen"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, u *user, gen int, now time.Time, ttl time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   u.id,
		Username: u.username,
		Role:     u.role,
		Gen:      gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(secret)
}

// Auth validates the bearer JWT and injects its claims into the context.
// revoked is consulted after the signature check.
func Auth(secret []byte, revoked func(*claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return errUnauthorized
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return errUnauthorized
			}

			cl := &claims{}
			tkn, err := jwt.ParseWithClaims(parts[1], cl, func(token *jwt.Token) (any, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !tkn.Valid {
				return errUnauthorized
			}
			if revoked != nil && revoked(cl) {
				return errUnauthorized
			}

			c.Set(ctxUserID, cl.UserID)
			c.Set(ctxUsername, cl.Username)
			c.Set(ctxRole, cl.Role)
			c.Set(ctxTokenID, cl.ID)

			return next(c)
		}
	}
}

// RBAC enforces role-based access control on top of Auth.
func RBAC(allowed ...domain.Role) echo.MiddlewareFunc {
	set := make(map[domain.Role]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get(ctxRole).(domain.Role)
			if _, ok := set[role]; !ok {
				return errForbidden
			}
			return next(c)
		}
	}
}

func (b *Backend) isRevoked(cl *claims) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cl.Gen != b.tokenGen || b.revoked[cl.ID]
}

func currentUserID(c echo.Context) int64 {
	id, _ := c.Get(ctxUserID).(int64)
	return id
}

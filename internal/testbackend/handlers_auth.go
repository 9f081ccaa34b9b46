package testbackend

import (
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username        string `json:"username"        validate:"required"`
	Password        string `json:"password"        validate:"required,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Nickname        string `json:"nickname"`
	Email           string `json:"email"           validate:"omitempty,email"`
}

// authResponse is the flat login payload: the token next to the identity fields.
type authResponse struct {
	Token string `json:"token"`
	domain.Identity
}

type userInfoResponse struct {
	ID int64 `json:"id"`
	domain.Identity
}

type roleInfoResponse struct {
	Permissions []string `json:"permissions"`
	RoleName    string   `json:"roleName"`
}

var rolePermissions = map[domain.Role][]string{
	domain.RoleUser:  {"cart:manage", "order:create", "order:view"},
	domain.RoleAdmin: {"cart:manage", "order:create", "order:view", "order:manage", "product:manage"},
}

func (b *Backend) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return reject("invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	b.mu.Lock()
	u, found := b.users[req.Username]
	b.mu.Unlock()
	if !found || !checkPassword(u.pwHash, req.Password) {
		return reject("invalid username or password")
	}

	b.mu.Lock()
	resp, err := b.authResponseLocked(u)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return ok(c, resp)
}

func (b *Backend) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return reject("invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, exists := b.users[req.Username]; exists {
		b.mu.Unlock()
		return reject("username already exists")
	}
	b.addUserLocked(req.Username, hash, req.Nickname, req.Email, domain.RoleUser)
	resp, err := b.authResponseLocked(b.users[req.Username])
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return ok(c, resp)
}

// passwordCost keeps hashing fast; every account here is a fixture.
const passwordCost = bcrypt.MinCost

func hashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), passwordCost)
}

func checkPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func (b *Backend) authResponseLocked(u *user) (authResponse, error) {
	tok, err := issueToken(b.secret, u, b.tokenGen, b.now(), b.tokenTTL)
	if err != nil {
		return authResponse{}, err
	}
	return authResponse{Token: tok, Identity: identityOf(u)}, nil
}

func (b *Backend) logout(c echo.Context) error {
	id, _ := c.Get(ctxTokenID).(string)
	b.mu.Lock()
	b.revoked[id] = true
	b.mu.Unlock()
	return ok(c, nil)
}

func (b *Backend) captcha(c echo.Context) error {
	key := uuid.NewString()
	return ok(c, domain.Captcha{
		Key:   key,
		Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(key[:4])),
	})
}

func (b *Backend) userInfo(c echo.Context) error {
	username, _ := c.Get(ctxUsername).(string)
	b.mu.Lock()
	u, found := b.users[username]
	b.mu.Unlock()
	if !found {
		return errUnauthorized
	}
	return ok(c, userInfoResponse{ID: u.id, Identity: identityOf(u)})
}

func (b *Backend) roleInfo(c echo.Context) error {
	role, _ := c.Get(ctxRole).(domain.Role)
	return ok(c, roleInfoResponse{Permissions: rolePermissions[role], RoleName: role.String()})
}

func (b *Backend) checkAdmin(c echo.Context) error {
	return ok(c, true)
}

func identityOf(u *user) domain.Identity {
	created := u.created
	return domain.Identity{
		UserID:       u.id,
		Username:     u.username,
		Nickname:     u.nickname,
		Email:        u.email,
		Phone:        u.phone,
		Role:         u.role,
		Status:       domain.UserStatusNormal,
		RegisterTime: &created,
	}
}

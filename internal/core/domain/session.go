package domain

import "time"

// Role is the account role as encoded on the wire (1 admin, 2 user).
type Role int

const (
	RoleAdmin Role = 1
	RoleUser  Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleUser:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

const (
	UserStatusDisabled = 0
	UserStatusNormal   = 1
)

// Identity holds the attributes resolved for the current token.
type Identity struct {
	UserID        int64      `json:"userId"`
	Username      string     `json:"username"`
	Nickname      string     `json:"nickname,omitempty"`
	Avatar        string     `json:"avatar,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	Role          Role       `json:"role"`
	Status        int        `json:"status"`
	RegisterTime  *time.Time `json:"registerTime,omitempty"`
	LastLoginTime *time.Time `json:"lastLoginTime,omitempty"`
}

// PermissionSet is the list of permission codes granted to the session. An empty
// set means least privilege, never "unknown".
type PermissionSet []string

func (p PermissionSet) Has(code string) bool {
	for _, c := range p {
		if c == code {
			return true
		}
	}
	return false
}

// Session is the authentication state owned by the session manager.
// Identity is non-nil only while Token is non-empty.
type Session struct {
	Token       string        `json:"token"`
	Identity    *Identity     `json:"identity,omitempty"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	RoleName    string        `json:"roleName,omitempty"`
}

// Authenticated reports whether a bearer token is present.
func (s Session) Authenticated() bool { return s.Token != "" }

// Resolved reports whether identity has been resolved for the current token.
func (s Session) Resolved() bool { return s.Token != "" && s.Identity != nil }

// Clone returns a deep copy safe to hand out of the owning service.
func (s Session) Clone() Session {
	out := Session{Token: s.Token, RoleName: s.RoleName}
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Permissions != nil {
		out.Permissions = append(PermissionSet(nil), s.Permissions...)
	}
	return out
}

// Credentials is the login payload.
type Credentials struct {
	Username   string `json:"username"   validate:"required"`
	Password   string `json:"password"   validate:"required"`
	Captcha    string `json:"captcha,omitempty"`
	CaptchaKey string `json:"captchaKey,omitempty"`
}

// Registration is the register payload.
type Registration struct {
	Username        string `json:"username"        validate:"required,min=3,max=32"`
	Password        string `json:"password"        validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Nickname        string `json:"nickname,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	Captcha         string `json:"captcha,omitempty"`
	CaptchaKey      string `json:"captchaKey,omitempty"`
}

// Captcha is an image challenge issued before login/register.
type Captcha struct {
	Key   string `json:"key"`
	Image string `json:"image"`
}

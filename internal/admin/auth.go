package admin

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie the dashboard stores its token in.
const CookieName = "adminToken"

// DefaultTokenTTL matches the dashboard login session.
const DefaultTokenTTL = 24 * time.Hour

// Claims identify an administrator.
type Claims struct {
	IsAdmin bool   `json:"isAdmin"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator checks HS512 admin tokens against the configured email.
type Authenticator struct {
	secret []byte
	email  string
	now    func() time.Time
}

func NewAuthenticator(cfg config.AdminConfig) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.Secret),
		email:  cfg.Email,
		now:    time.Now,
	}
}

// Sign issues an admin token for the configured email.
func (a *Authenticator) Sign(ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := Claims{
		IsAdmin: true,
		Email:   a.email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(a.secret)
}

// Verify parses token and checks the admin claims.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}), jwt.WithTimeFunc(a.now))
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return nil, errors.Wrap(err, errors.ErrorTypeUnauthorized, "SESSION_EXPIRED", "Session expired")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUnauthorized, "INVALID_TOKEN", "Invalid authentication")
	}

	if !claims.IsAdmin || claims.Email != a.email {
		return nil, errors.New(errors.ErrorTypeUnauthorized, "NOT_ADMIN", "Not authorized as admin")
	}
	return claims, nil
}

// Middleware rejects requests without a valid admin token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required")
			return
		}

		if _, err := a.Verify(token); err != nil {
			e, _ := errors.As(err)
			status := http.StatusUnauthorized
			if e.Code == "NOT_ADMIN" {
				status = http.StatusForbidden
			}
			writeError(w, status, e.Code, e.Message)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

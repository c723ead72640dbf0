package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"palaver/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrNoCredential      = fmt.Errorf("no credential: %w", models.ErrUnauthenticated)
	ErrInvalidCredential = fmt.Errorf("invalid credential: %w", models.ErrUnauthenticated)
)

// Claims is the token payload issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// UserFinder resolves a user id to a user record. The referenced user
// must still exist for a token to be accepted.
type UserFinder interface {
	FindUserByID(userID string) (models.User, error)
}

// Authenticator validates bearer credentials against the same secret and
// algorithm the auth service signs session tokens with. This check runs
// once, synchronously, before any room operation is accepted.
type Authenticator struct {
	secret []byte
	users  UserFinder
	now    func() time.Time
}

func New(secret string, users UserFinder) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	return &Authenticator{
		secret: []byte(secret),
		users:  users,
		now:    time.Now,
	}, nil
}

// Authenticate verifies a bearer token and returns the authenticated user.
// An absent token fails with ErrNoCredential; a token that does not verify
// or references a user that no longer exists fails with ErrInvalidCredential.
func (a *Authenticator) Authenticate(token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrNoCredential
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return models.User{}, ErrInvalidCredential
	}

	user, err := a.users.FindUserByID(claims.UserID)
	if err != nil {
		return models.User{}, ErrInvalidCredential
	}

	return user, nil
}

// Issue signs a token the way the auth service does. Used by the dev
// token tool and tests.
func Issue(secret, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TokenFromRequest extracts the bearer credential from the accessToken
// cookie, the Authorization header, or the token query parameter
// (websocket handshakes cannot always set headers).
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("accessToken"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

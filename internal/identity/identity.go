// Package identity verifies cashier and admin tokens and carries the
// authenticated operator through request contexts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles an operator can hold.
const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)

// Operator is an authenticated person using the till.
type Operator struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the operator holds role. Admins hold every role.
func (o Operator) HasRole(role string) bool {
	return slices.Contains(o.Roles, role) || slices.Contains(o.Roles, RoleAdmin)
}

// Claims are the JWT claims an operator token carries.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

var ErrInvalidToken = errors.New("invalid token")

// Verifier validates HS256 operator tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Verify parses token and returns the operator it names.
func (v *Verifier) Verify(token string) (Operator, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Operator{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Operator{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Operator{}, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}

	return Operator{ID: claims.Subject, Name: claims.Name, Roles: claims.Roles}, nil
}

// Issue signs a token for op valid for ttl. Used by the token CLI flag and tests.
func (v *Verifier) Issue(op Operator, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:  op.Name,
		Roles: op.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type ctxKey struct{}

// WithOperator stores op in ctx.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, ctxKey{}, op)
}

// FromContext returns the operator stored in ctx, if any.
func FromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(ctxKey{}).(Operator)
	return op, ok
}

// ContextProvider answers "who is settling" from the request context.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	op, ok := FromContext(ctx)
	if !ok || op.ID == "" {
		return "", false
	}
	return op.ID, true
}

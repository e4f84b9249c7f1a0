package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
	RoleLab     Role = "lab"
	RoleAdmin   Role = "admin"
)

// Provider reports whether the role belongs to someone who owns
// availability slots and appears as the provider side of an appointment.
func (r Role) Provider() bool {
	return r == RoleDoctor || r == RoleNurse || r == RoleLab
}

// Platform reports whether the role bypasses ownership checks.
func (r Role) Platform() bool {
	return r == RoleAdmin
}

var validRoles = map[Role]bool{
	RolePatient: true,
	RoleDoctor:  true,
	RoleNurse:   true,
	RoleLab:     true,
	RoleAdmin:   true,
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

type contextKey string

const principalKey contextKey = "principal"

var ErrNoPrincipal = errors.New("no principal in context")

func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Sign mints an HS256 token for the given identity. Used by the seed tool
// and tests; production tokens come from the identity service with the same
// shape.
func Sign(secret string, id uuid.UUID, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return t.SignedString([]byte(secret))
}

// Parse validates a bearer token and extracts the principal.
func Parse(secret, token string) (Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid subject claim: %w", err)
	}
	role := Role(c.Role)
	if !validRoles[role] {
		return Principal{}, fmt.Errorf("unknown role claim %q", c.Role)
	}

	return Principal{ID: id, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","details":"missing bearer token"}`))
				return
			}

			p, err := Parse(secret, raw)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","details":"invalid token"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaydesk/config"
	desk_errors "relaydesk/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleMasterAdmin Role = "master_admin"
	RoleAdmin       Role = "admin"
	RoleClientUser  Role = "client_user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMasterAdmin, RoleAdmin, RoleClientUser:
		return true
	}
	return false
}

func (r Role) IsAdmin() bool {
	return r == RoleMasterAdmin || r == RoleAdmin
}

// Subject is the verified identity behind a request or connection.
type Subject struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// AuthService verifies staff credentials. Issuance exists for dev tooling
// and tests; login flows live elsewhere.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: cfg.JWTExpiry(),
		now:       time.Now,
	}
}

// Verify is side-effect free. Every failure maps to ErrUnauthorized.
func (s *AuthService) Verify(tokenString string) (Subject, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return Subject{}, err
	}
	return Subject{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, desk_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, desk_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return AccessClaims{}, desk_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return AccessClaims{}, desk_errors.ErrUnauthorized
	}

	return *claims, nil
}

// IssueAccessToken signs an HS256 token for subject with the configured expiry.
func (s *AuthService) IssueAccessToken(subject Subject) (string, int64, error) {
	if subject.UserID == "" || !subject.Role.Valid() {
		return "", 0, fmt.Errorf("%w: subject requires user id and role", desk_errors.ErrInvalidInput)
	}
	now := s.now()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		Email: subject.Email,
		Role:  subject.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(s.accessTTL.Seconds()), nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, desk_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, desk_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, desk_errors.ErrForbidden):
		return 403
	case errors.Is(err, desk_errors.ErrNotFound):
		return 404
	case errors.Is(err, desk_errors.ErrAlreadyExists), errors.Is(err, desk_errors.ErrConflict):
		return 409
	case errors.Is(err, desk_errors.ErrRateLimited):
		return 429
	case errors.Is(err, desk_errors.ErrUpstream):
		return 502
	case errors.Is(err, desk_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var subjectKey ctxKey = "subject"

func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func SubjectFromContext(ctx context.Context) (Subject, bool) {
	value := ctx.Value(subjectKey)
	if value == nil {
		return Subject{}, false
	}
	subject, ok := value.(Subject)
	return subject, ok
}

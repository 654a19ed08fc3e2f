package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/calgate/calgate/internal/store"
)

var (
	// ErrUnauthorized means the request carried no usable identity evidence.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden means identity evidence was present but invalid or revoked.
	ErrForbidden = errors.New("invalid api key")

	// ErrInvalidCredentials covers unknown secrets, revoked keys, and bad
	// passwords alike, so failures never reveal which case occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is a resolved caller: the owning user plus display info for
// logging and response metadata.
type Identity struct {
	UserID  string
	Display string
	IsAdmin bool
	Via     string // "api_key" or "session"
}

// AuthService resolves request identities. Two mutually exclusive paths are
// supported, in fixed precedence order: an API key, then a session token.
type AuthService struct {
	store      *store.Store
	keys       *KeyService
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewAuthService creates an AuthService.
func NewAuthService(st *store.Store, keys *KeyService, jwtSecret string, sessionTTL time.Duration) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthService{
		store:      st,
		keys:       keys,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
	}
}

// Resolve determines the calling user from the request's credentials.
// An API key, when present, is authoritative: if it fails verification the
// result is ErrForbidden and the session token is never consulted. With no
// API key, the session token is verified; absence or failure of both yields
// ErrUnauthorized.
func (s *AuthService) Resolve(ctx context.Context, apiKey, sessionToken string) (*Identity, error) {
	if apiKey != "" {
		id, err := s.ValidateAPIKey(ctx, apiKey)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return nil, ErrForbidden
			}
			return nil, err
		}
		return id, nil
	}

	if sessionToken != "" {
		id, err := s.ValidateSession(ctx, sessionToken)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return nil, ErrUnauthorized
			}
			return nil, err
		}
		return id, nil
	}

	return nil, ErrUnauthorized
}

// ValidateAPIKey verifies a raw API key and resolves the owning user.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*Identity, error) {
	keyID, err := s.keys.Verify(ctx, rawKey)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, keyID.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("resolve key owner: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		UserID:  user.ID,
		Display: user.DisplayName(),
		IsAdmin: user.IsAdmin,
		Via:     "api_key",
	}, nil
}

// ValidateSession verifies an HS256 session token and resolves the user.
func (s *AuthService) ValidateSession(ctx context.Context, tokenStr string) (*Identity, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("resolve session user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		UserID:  user.ID,
		Display: user.DisplayName(),
		IsAdmin: user.IsAdmin,
		Via:     "session",
	}, nil
}

// Login authenticates a user by email and password and issues a session
// token. The last-login timestamp is updated best-effort.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Identity, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return nil, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueSession(user.ID, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("issue session: %w", err)
	}

	_ = s.store.UpdateUserLastLogin(ctx, user.ID)

	return &Identity{
		UserID:  user.ID,
		Display: user.DisplayName(),
		IsAdmin: user.IsAdmin,
		Via:     "session",
	}, token, nil
}

// IssueSession creates a new signed session token for the given user.
func (s *AuthService) IssueSession(userID, email string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			Issuer:    "calgate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// SessionTTL returns the configured session lifetime.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessionTTL
}

type sessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HashPassword returns the bcrypt hash of a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Package auth handles registration and API-key authentication. The
// key is shown to the user exactly once at registration; the store
// keeps only its SHA-256 hash.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/strata-ai/strata/pkg/store"
)

const (
	keyPrefix         = "sk-strata-"
	minPasswordLength = 8
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Service owns credential hashing and key lookups.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Registration is returned once; the raw API key is not recoverable
// afterwards.
type Registration struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	APIKey string `json:"api_key"`
}

// Register creates a user and mints their API key.
func (s *Service) Register(ctx context.Context, email, password string) (*Registration, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	credentialHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credential: %w", err)
	}

	apiKey, err := mintKey()
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, email, string(credentialHash), HashKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Registration{UserID: user.ID, Email: user.Email, APIKey: apiKey}, nil
}

// Authenticate resolves an API key to its user.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*store.User, error) {
	if apiKey == "" {
		return nil, store.ErrNotFound
	}
	return s.store.GetUserByAPIKeyHash(ctx, HashKey(apiKey))
}

// VerifyPassword checks a password against the stored bcrypt hash.
func (s *Service) VerifyPassword(ctx context.Context, email, password string) (*store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.CredentialHash), []byte(password)) != nil {
		return nil, fmt.Errorf("credential mismatch: %w", store.ErrForbidden)
	}
	return user, nil
}

func mintKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(raw), nil
}

// HashKey is the stored form of an API key.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// ExtractKey pulls the API key from a request: Authorization bearer
// token, X-API-Key header, or api_key query parameter, in that order.
func ExtractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
		return strings.TrimSpace(h)
	}
	if h := r.Header.Get("X-API-Key"); h != "" {
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("api_key")
}

// MaskKey renders an API key for logs as prefix...***.
func MaskKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:8] + "...***"
}

var keyPattern = regexp.MustCompile(regexp.QuoteMeta(keyPrefix) + `[0-9a-f]+`)

// SanitizeText masks any embedded API keys in a string bound for logs
// or error responses.
func SanitizeText(text string) string {
	return keyPattern.ReplaceAllStringFunc(text, MaskKey)
}

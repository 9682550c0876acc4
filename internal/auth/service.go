// Package auth handles registration, login and bearer-token authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

var (
	ErrInvalidCredentials = apperr.New(http.StatusUnauthorized, apperr.CodeInvalidCredentials,
		"Invalid email or password")
	ErrEmailTaken = apperr.New(http.StatusBadRequest, apperr.CodeEmailTaken,
		"Email already registered")
	ErrInvalidToken    = apperr.Unauthorized("Invalid or expired token")
	ErrPasswordTooLong = apperr.InvalidInput("Password must be at most 72 bytes")
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

type Service struct {
	store  store.Store
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(st store.Store, issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{
		store:  st,
		issuer: issuer,
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a customer account and its empty wallet in one
// transaction, and returns a token for the new user.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*model.User, string, error) {
	email = normalizeEmail(email)
	if len(password) > MaxPasswordBytes {
		return nil, "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(fullName),
		Role:         model.RoleCustomer,
		KYCStatus:    model.KYCNotStarted,
		CreatedAt:    now,
	}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.CreateWallet(ctx, model.NewWalletBalance(user.ID, now))
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, "", ErrEmailTaken
	}
	if err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := s.signToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	slog.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.signToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Me returns the authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Service) signToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a bearer token and returns its user id.
func (s *Service) ParseToken(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

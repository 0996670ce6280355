package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
)

// MinPasswordLength is the shortest password accepted for an operator.
const MinPasswordLength = 8

// ErrOperatorDisabled is returned when a disabled operator tries to log in.
var ErrOperatorDisabled = errors.New("operator account is disabled")

// OperatorUsecase manages operator accounts and issues API tokens.
type OperatorUsecase struct {
	repo     domain.OperatorRepository
	tokenTTL time.Duration
	cost     int
}

// NewOperatorUsecase creates a new operator usecase
func NewOperatorUsecase(repo domain.OperatorRepository, tokenTTL time.Duration) *OperatorUsecase {
	if tokenTTL <= 0 {
		tokenTTL = auth.DefaultTokenTTL
	}
	return &OperatorUsecase{repo: repo, tokenTTL: tokenTTL, cost: bcrypt.DefaultCost}
}

// Login checks the password and returns a signed token.
func (uc *OperatorUsecase) Login(ctx context.Context, username, password string) (*domain.AuthResponse, error) {
	op, err := uc.repo.GetOperatorByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !op.IsActive {
		return nil, ErrOperatorDisabled
	}

	if err := uc.repo.UpdateLastLogin(ctx, op.ID); err != nil {
		log.Printf("Failed to record login for operator %s: %v", op.Username, err)
	}

	token, err := auth.GenerateJWT(op.Username, uc.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	now := time.Now()
	op.LastLoginAt = &now
	return &domain.AuthResponse{Token: token, Operator: op, ExpiresAt: now.Add(uc.tokenTTL)}, nil
}

// CreateOperator adds an active operator.
func (uc *OperatorUsecase) CreateOperator(ctx context.Context, username, password string) (*domain.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if _, err := uc.repo.GetOperatorByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("operator %s already exists", username)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	op := &domain.Operator{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := uc.repo.CreateOperator(ctx, op); err != nil {
		return nil, err
	}
	log.Printf("Operator %s created", username)
	return op, nil
}

// ResetPassword sets a new password without checking the old one.
func (uc *OperatorUsecase) ResetPassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	op, err := uc.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("operator %s: %w", username, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), uc.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return uc.repo.UpdatePassword(ctx, op.ID, string(hash))
}

// SetActive enables or disables an operator.
func (uc *OperatorUsecase) SetActive(ctx context.Context, username string, active bool) error {
	op, err := uc.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("operator %s: %w", username, err)
	}
	return uc.repo.SetActive(ctx, op.ID, active)
}

// ListOperators returns every operator.
func (uc *OperatorUsecase) ListOperators(ctx context.Context) ([]*domain.Operator, error) {
	return uc.repo.ListOperators(ctx)
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	}
	return nil
}

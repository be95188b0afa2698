package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

var (
	// ErrUnauthorized is returned when a connection cannot be bound to a user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserDisabled is returned for users whose account is disabled.
	ErrUserDisabled = errors.New("user disabled")
	// ErrUserExists is returned when trying to register an existing email.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidEmail is returned when the email cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidRole is returned for roles other than ADMIN and CLIENT.
	ErrInvalidRole = errors.New("invalid role")
)

// Credentials are supplied by a client when opening a connection.
// UserID is optional; when set it must match the token subject.
type Credentials struct {
	UserID string
	Token  string
}

// Identity is bound to a connection for its whole lifetime.
type Identity struct {
	UserID string
	Role   store.Role
}

// RegisterParams describes a new user.
type RegisterParams struct {
	Name     string
	Email    string
	Password string
	Role     store.Role
	Status   store.UserStatus
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Authenticate maps connection credentials to an identity.
// Every failure wraps ErrUnauthorized except store failures.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if creds.UserID != "" && creds.UserID != claims.Subject {
		return Identity{}, fmt.Errorf("%w: token does not belong to user %s", ErrUnauthorized, creds.UserID)
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		return Identity{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Enabled() {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrUserDisabled)
	}

	// The stored role wins over whatever the token claims.
	return Identity{UserID: user.ID, Role: user.Role}, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}
	if !user.Enabled() {
		return "", ErrUserDisabled
	}

	return s.IssueToken(user)
}

// IssueToken signs a token for user.
func (s *Service) IssueToken(user *store.User) (string, error) {
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Role)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*store.User, error) {
	email := normalizeEmail(p.Email)
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, " <>") {
		return nil, ErrInvalidEmail
	}
	switch p.Role {
	case store.RoleAdmin, store.RoleClient:
	default:
		return nil, ErrInvalidRole
	}
	if p.Status == "" {
		p.Status = store.UserStatusActive
	}

	if existing, err := s.store.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrUserExists
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hashedPassword, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Name:         strings.TrimSpace(p.Name),
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         p.Role,
		Status:       p.Status,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"printwatch/internal/model"
	"printwatch/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// Token is an issued access token
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Authenticator manages user accounts and issues access tokens
type Authenticator struct {
	users      store.UserStore
	jwtManager *JWTManager
	required   bool
}

// NewAuthenticator creates an authenticator. When required is false the
// job and printer API is open and only the account endpoints use tokens.
func NewAuthenticator(users store.UserStore, jwtManager *JWTManager, required bool) *Authenticator {
	return &Authenticator{
		users:      users,
		jwtManager: jwtManager,
		required:   required,
	}
}

// IsRequired returns whether API calls need a valid token
func (a *Authenticator) IsRequired() bool {
	return a.required
}

// Signup creates a user with a bcrypt-hashed password
func (a *Authenticator) Signup(ctx context.Context, email, password string) (model.User, error) {
	email = strings.TrimSpace(email)

	hash, err := HashPassword(password)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := model.User{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.User{}, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return model.User{}, err
	}

	log.Printf("[Auth] User %d signed up", user.ID)
	return user, nil
}

// Signin validates credentials and returns an access token
func (a *Authenticator) Signin(ctx context.Context, email, password string) (Token, error) {
	user, err := a.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return Token{}, err
	}

	return Token{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt.Unix()}, nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// CurrentUser resolves the user a token was issued to
func (a *Authenticator) CurrentUser(ctx context.Context, claims *Claims) (model.User, error) {
	id, err := claims.UserID()
	if err != nil {
		return model.User{}, err
	}
	user, err := a.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, ErrInvalidToken
	}
	return user, err
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

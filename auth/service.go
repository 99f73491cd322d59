package auth

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// PhotoStore persists profile photos and returns a public URL.
type PhotoStore interface {
	Store(ctx context.Context, data []byte, path string, public bool) (string, error)
}

// Service handles authentication and profile business logic.
type Service struct {
	repo      Repository
	photos    PhotoStore
	jwtSecret []byte
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, photos PhotoStore, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		photos:    photos,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleArtist
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: invalid role %q", role)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a session JWT.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies the supplied profile edits.
func (s *Service) UpdateProfile(ctx context.Context, userID string, params UpdateProfileParams) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("auth: user id required")
	}
	if params.FullName != nil && strings.TrimSpace(*params.FullName) == "" {
		return nil, fmt.Errorf("auth: full name cannot be empty")
	}

	user, err := s.repo.UpdateProfile(ctx, userID, params)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UploadProfilePhoto stores the photo bytes and persists the resulting URL.
func (s *Service) UploadProfilePhoto(ctx context.Context, userID, filename string, data []byte) (*User, error) {
	if userID == "" || filename == "" {
		return nil, fmt.Errorf("auth: user id and filename required")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("auth: empty photo payload")
	}
	if s.photos == nil {
		return nil, fmt.Errorf("auth: photo store not configured")
	}

	objectPath := path.Join("profile-photos", userID, path.Base(filename))
	url, err := s.photos.Store(ctx, data, objectPath, true)
	if err != nil {
		return nil, fmt.Errorf("auth: store profile photo: %w", err)
	}

	user, err := s.repo.SetPhotoURL(ctx, userID, url)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a session JWT and returns the embedded identity.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("auth: invalid user_id in token")
	}
	email, ok := claims["email"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("auth: invalid email in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("auth: invalid role in token")
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Identity{}, fmt.Errorf("auth: invalid role %q in token", roleStr)
	}

	return Identity{UserID: userID, Email: email, Role: role}, nil
}

// generateToken creates a session JWT for the user.
func (s *Service) generateToken(user User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleArtist, RoleManager, RoleLabel:
		return true
	default:
		return false
	}
}

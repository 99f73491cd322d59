package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type memoryRepo struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		usersByEmail: map[string]User{},
		usersByID:    map[string]User{},
		nextID:       1,
	}
}

func (m *memoryRepo) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := m.usersByEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	user := User{
		ID:           fmt.Sprintf("user-%d", m.nextID),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Plan:         "free",
		Role:         params.Role,
	}
	m.nextID++
	m.usersByEmail[user.Email] = user
	m.usersByID[user.ID] = user
	return user, nil
}

func (m *memoryRepo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := m.usersByEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memoryRepo) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memoryRepo) UpdateProfile(ctx context.Context, userID string, params UpdateProfileParams) (User, error) {
	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if params.FullName != nil {
		user.FullName = *params.FullName
	}
	if params.ArtistName != nil {
		user.ArtistName = params.ArtistName
	}
	if params.Phone != nil {
		user.Phone = params.Phone
	}
	if params.Bio != nil {
		user.Bio = params.Bio
	}
	m.usersByID[userID] = user
	m.usersByEmail[user.Email] = user
	return user, nil
}

func (m *memoryRepo) SetPhotoURL(ctx context.Context, userID, url string) (User, error) {
	user, ok := m.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.PhotoURL = &url
	m.usersByID[userID] = user
	return user, nil
}

type fakePhotoStore struct {
	path   string
	public bool
}

func (f *fakePhotoStore) Store(ctx context.Context, data []byte, path string, public bool) (string, error) {
	f.path = path
	f.public = public
	return "https://files.muwise.test/" + path, nil
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "Ava@Example.com",
		Password: "correct horse",
		FullName: "Ava Stone",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ava@example.com" {
		t.Errorf("expected lowercased email, got %q", user.Email)
	}
	if user.Role != RoleArtist {
		t.Errorf("expected default artist role, got %q", user.Role)
	}
	if user.PasswordHash == "correct horse" {
		t.Errorf("password must not be stored in clear")
	}

	result, err := svc.Login(context.Background(), LoginRequest{Email: "ava@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected session token")
	}

	identity, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if identity.UserID != user.ID {
		t.Errorf("expected identity for %s, got %s", user.ID, identity.UserID)
	}
	if identity.Email != "ava@example.com" {
		t.Errorf("expected email claim, got %q", identity.Email)
	}
	if identity.Role != RoleArtist {
		t.Errorf("expected role claim, got %q", identity.Role)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, "test-secret")
	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ava@example.com",
		Password: "short",
		FullName: "Ava Stone",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, "test-secret")
	req := RegisterRequest{Email: "ava@example.com", Password: "correct horse", FullName: "Ava Stone"}

	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, "test-secret")
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ava@example.com",
		Password: "correct horse",
		FullName: "Ava Stone",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(context.Background(), LoginRequest{Email: "ava@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestVerifyToken_RejectsForeignSecret(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, "test-secret")
	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ava@example.com",
		Password: "correct horse",
		FullName: "Ava Stone",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	other := NewService(repo, nil, "another-secret")
	result, err := other.Login(context.Background(), LoginRequest{Email: "ava@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := svc.VerifyToken(result.Token); err == nil {
		t.Fatalf("expected verification to fail for a token signed with another secret")
	}
}

func TestUpdateProfile(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, "test-secret")
	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ava@example.com",
		Password: "correct horse",
		FullName: "Ava Stone",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	artist := "AVA"
	updated, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileParams{ArtistName: &artist})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.ArtistName == nil || *updated.ArtistName != "AVA" {
		t.Errorf("expected artist name to be set, got %v", updated.ArtistName)
	}
	if updated.FullName != "Ava Stone" {
		t.Errorf("nil fields must stay untouched, got %q", updated.FullName)
	}

	empty := "  "
	if _, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileParams{FullName: &empty}); err == nil {
		t.Fatalf("expected error for blank full name")
	}
}

func TestUploadProfilePhoto(t *testing.T) {
	repo := newMemoryRepo()
	store := &fakePhotoStore{}
	svc := NewService(repo, store, "test-secret")
	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ava@example.com",
		Password: "correct horse",
		FullName: "Ava Stone",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := svc.UploadProfilePhoto(context.Background(), user.ID, "../sneaky/avatar.png", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("upload photo: %v", err)
	}

	if store.path != "profile-photos/"+user.ID+"/avatar.png" {
		t.Errorf("expected basename-only object path, got %q", store.path)
	}
	if !store.public {
		t.Errorf("expected public photo")
	}
	if updated.PhotoURL == nil || !strings.HasSuffix(*updated.PhotoURL, "avatar.png") {
		t.Errorf("expected photo url to be persisted, got %v", updated.PhotoURL)
	}
}

package auth

import "time"

type Role string

const (
	RoleArtist  Role = "artist"
	RoleManager Role = "manager"
	RoleLabel   Role = "label"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	ArtistName   *string
	Phone        *string
	Bio          *string
	PhotoURL     *string
	Plan         string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Identity is the session payload carried in a verified token. Email is
// included so signing-link handlers can cross-check token-bound identity.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// UpdateProfileParams carries the editable profile fields; nil leaves the
// field untouched.
type UpdateProfileParams struct {
	FullName   *string
	ArtistName *string
	Phone      *string
	Bio        *string
}

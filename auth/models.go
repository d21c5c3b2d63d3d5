package auth

import "time"

// User is the domain representation of an authenticated user. Any user can
// act as a buyer (posting jobs), a seller (working them), or a peer voter;
// there is no role split.
type User struct {
	ID               string
	Email            string
	Nickname         string
	PasswordHash     string
	PaymentAccountID *string
	Rating           float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

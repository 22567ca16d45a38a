package models

// RegisterRequest represents the registration request
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned from register and login. Token is the account's
// API bearer token; JWT is the session token for the management endpoints
// and is only set on login.
type AuthResponse struct {
	JWT     string  `json:"jwt,omitempty"`
	Token   string  `json:"token"`
	Account Account `json:"account"`
}

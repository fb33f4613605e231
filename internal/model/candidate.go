package model

import "time"

// Role distinguishes test takers from proctors watching the live monitor.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleProctor   Role = "proctor"
)

// Candidate represents a user who can sit tests or proctor them.
type Candidate struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Token     string    `json:"token"`
	Candidate Candidate `json:"candidate"`
}

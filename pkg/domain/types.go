package domain

import "time"

// Account is a registered feedback recipient.
type Account struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	Email               string    `json:"email"`
	PasswordHash        string    `json:"-"`
	VerifyCode          string    `json:"-"`
	VerifyCodeExpiry    time.Time `json:"-"`
	IsVerified          bool      `json:"isVerified"`
	IsAcceptingMessages bool      `json:"isAcceptingMessages"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Message is an anonymous submission owned by an account.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session identifies the signed-in owner of an account.
type Session struct {
	AccountID string
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

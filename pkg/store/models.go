package store

import "time"

// GORM models used for persistence. The schema itself is owned by the
// goose migrations in ./migrations.
type AccountModel struct {
	ID                  string    `gorm:"primaryKey"`
	Username            string    `gorm:"not null"`
	Email               string    `gorm:"not null"`
	PasswordHash        string    `gorm:"not null"`
	VerifyCode          string    `gorm:"not null"`
	VerifyCodeExpiry    time.Time `gorm:"not null"`
	IsVerified          bool      `gorm:"not null"`
	IsAcceptingMessages bool      `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string { return "accounts" }

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	Seq       int64     `gorm:"column:seq;<-:false"`
	AccountID string    `gorm:"not null;index"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string { return "messages" }

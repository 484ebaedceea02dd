package models

import (
	"time"
)

// Account is stored as a single item keyed by ACCOUNT#<id>.
type Account struct {
	ID                     string     `json:"id" dynamodbav:"id"`
	Name                   string     `json:"name" dynamodbav:"name"`
	Email                  string     `json:"email" dynamodbav:"email"`
	Phone                  string     `json:"phone" dynamodbav:"phone"`
	PasswordHash           string     `json:"-" dynamodbav:"password_hash"`
	Verified               bool       `json:"accountVerified" dynamodbav:"verified"`
	VerificationCode       *string    `json:"-" dynamodbav:"verification_code,omitempty"`
	VerificationCodeExpire *time.Time `json:"-" dynamodbav:"verification_code_expire,omitempty,unixtime"`
	ResetPasswordToken     *string    `json:"-" dynamodbav:"reset_password_token,omitempty"`
	ResetPasswordExpire    *time.Time `json:"-" dynamodbav:"reset_password_expire,omitempty,unixtime"`
	CreatedAt              time.Time  `json:"createdAt" dynamodbav:"created_at,unixtime"`
	UpdatedAt              time.Time  `json:"updatedAt" dynamodbav:"updated_at,unixtime"`
}

func (a *Account) GetPK() string {
	return "ACCOUNT#" + a.ID
}

func (a *Account) GetSK() string {
	return "METADATA"
}

// HasPendingCode reports whether both verification fields are set.
func (a *Account) HasPendingCode() bool {
	return a.VerificationCode != nil && a.VerificationCodeExpire != nil
}

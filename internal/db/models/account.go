// Package models - account.go defines the Account model: the authentication identity
// behind a profile, reachable by email, phone hash, or OIDC subject.
package models

import "time"

// Account represents an authentication identity
type Account struct {
	ID             string     `db:"id" json:"id"`
	Email          *string    `db:"email" json:"email,omitempty"`
	PhoneEncrypted *string    `db:"phone_encrypted" json:"-"`
	PhoneHash      *string    `db:"phone_hash" json:"-"`
	PasswordHash   *string    `db:"password_hash" json:"-"`
	OIDCSubject    *string    `db:"oidc_subject" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	LastSignInAt   *time.Time `db:"last_sign_in_at" json:"last_sign_in_at,omitempty"`
}

// HasPassword reports whether password sign-in is possible for the account
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

package models

import (
	"fmt"

	"github.com/alwitt/ephemera/expiry"
)

// SecretNote an encrypted text note which self-destructs on a schedule or on first read
type SecretNote struct {
	// ID unguessable note ID; doubles as the access token
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,uuid4"`

	SealedValue `gorm:"embedded"`

	// DeleteAfterRead whether the first successful read destroys the note
	DeleteAfterRead bool `json:"delete_after_read" gorm:"column:delete_after_read;not null"`

	// ExpiresAt absolute expiry; absent means the note never expires by time
	ExpiresAt expiry.NullInstant `json:"expires_at" gorm:"column:expires_at;index"`

	// CreatedAt entry creation instant
	CreatedAt expiry.Instant `json:"created_at" gorm:"column:created_at;not null;index;autoCreateTime:false"`

	// HasPassword whether a password gates the note
	HasPassword bool `json:"has_password" gorm:"column:has_password;not null"`
	// PasswordHash one-way hash of the password
	PasswordHash *string `json:"-" gorm:"column:password_hash"`
}

// ValidatePasswordInvariant verify HasPassword agrees with the presence of a hash
func (n *SecretNote) ValidatePasswordInvariant() error {
	hasHash := n.PasswordHash != nil && len(*n.PasswordHash) > 0
	if n.HasPassword != hasHash {
		return fmt.Errorf(
			"note password flag %v disagrees with stored hash presence %v", n.HasPassword, hasHash,
		)
	}
	return nil
}

// IsExpired whether the note's time based lifetime has passed at now
func (n *SecretNote) IsExpired(now expiry.Instant) bool {
	return expiry.IsPastOptional(n.ExpiresAt, now)
}

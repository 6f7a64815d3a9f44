// Package models - data models of the ephemeral content host
package models

import (
	"fmt"
	"time"
)

// EncryptionKeyStateENUMType encryption state enum type
type EncryptionKeyStateENUMType string

const (
	// EncryptionKeyStateActive the key seals new values and opens existing ones
	EncryptionKeyStateActive EncryptionKeyStateENUMType = "ACTIVE"
	// EncryptionKeyStateRetired the key only opens values it sealed before rotation
	EncryptionKeyStateRetired EncryptionKeyStateENUMType = "RETIRED"
	// EncryptionKeyStateInactive the key is disabled; values it sealed can't be opened
	EncryptionKeyStateInactive EncryptionKeyStateENUMType = "INACTIVE"
)

// CanSeal whether a key in this state may seal new values
func (s EncryptionKeyStateENUMType) CanSeal() bool {
	return s == EncryptionKeyStateActive
}

// CanOpen whether a key in this state may open sealed values
func (s EncryptionKeyStateENUMType) CanOpen() bool {
	return s == EncryptionKeyStateActive || s == EncryptionKeyStateRetired
}

// EncryptionKey a data encryption key used to seal note text
//
// The key material is itself encrypted with the primary RSA key pair; only the
// cryptography engine ever sees the plain key.
type EncryptionKey struct {
	// ID key ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// EncKeyMaterial the encrypted encryption key material
	EncKeyMaterial []byte `json:"enc_key_material" gorm:"column:enc_key_material;not null" validate:"required"`

	// State the encryption key state
	State EncryptionKeyStateENUMType `json:"state" gorm:"column:state;not null" validate:"required,enc_key_state"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

var encKeyStateTransitions = map[EncryptionKeyStateENUMType]map[EncryptionKeyStateENUMType]bool{
	EncryptionKeyStateActive: {
		EncryptionKeyStateActive:   true,
		EncryptionKeyStateRetired:  true,
		EncryptionKeyStateInactive: true,
	},
	EncryptionKeyStateRetired: {
		EncryptionKeyStateRetired:  true,
		EncryptionKeyStateActive:   true,
		EncryptionKeyStateInactive: true,
	},
	EncryptionKeyStateInactive: {
		EncryptionKeyStateInactive: true,
		EncryptionKeyStateActive:   true,
	},
}

// ValidateNextState verify can transition to new state
func (e *EncryptionKey) ValidateNextState(newState EncryptionKeyStateENUMType) error {
	availableNextStates, ok := encKeyStateTransitions[e.State]
	if !ok {
		return fmt.Errorf("encryption key can't transition out of state '%s'", e.State)
	}

	if _, ok := availableNextStates[newState]; !ok {
		return fmt.Errorf("encryption key can't transition from '%s' to '%s'", e.State, newState)
	}

	return nil
}

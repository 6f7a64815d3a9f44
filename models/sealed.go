package models

// SealedValue an AEAD sealed payload and the data encryption key which sealed it
//
// This is the only form in which note text is persisted.
type SealedValue struct {
	// EncKeyID the symmetric encryption key which sealed the value
	EncKeyID string `json:"enc_key_id" gorm:"column:enc_key_id;not null;index" validate:"required,uuid_rfc4122"`
	// EncValue the symmetrically encrypted value
	EncValue []byte `json:"-" gorm:"column:enc_value;not null" validate:"required"`
	// EncNonce the encryption nonce used
	EncNonce []byte `json:"-" gorm:"column:enc_nonce;not null" validate:"required"`
}

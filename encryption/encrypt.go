package encryption

import (
	"context"
	"errors"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/models"
	"gorm.io/gorm"
)

// sealedFormatV1 leading byte of every sealed payload. It also keeps the AEAD input
// non-empty when the caller seals an empty value.
const sealedFormatV1 byte = 0x01

// setupAEAD prepare AEAD; a random nonce is generated when none is given
func (e *cryptoEngine) setupAEAD(
	ctx context.Context, key []byte, nonce []byte,
) (cgoCrypto.AEAD, error) {
	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	keyBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedKeyLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD key buffer [%w]", err)
	}
	keyBufferCore, err := keyBuffer.GetSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to access AEAD key buffer core [%w]", err)
	}
	if copied := copy(keyBufferCore, key); copied != aead.ExpectedKeyLen() {
		return nil, fmt.Errorf(
			"failed to fill AEAD key buffer core %d =/= %d", copied, aead.ExpectedKeyLen(),
		)
	}
	if err := aead.SetKey(keyBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD key [%w]", err)
	}

	if len(nonce) == 0 {
		nonceBuffer, err := e.crypto.GetRandomBuf(ctx, aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce [%w]", err)
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
		return aead, nil
	}

	nonceBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedNonceLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD nonce buffer [%w]", err)
	}
	nonceBufferCore, err := nonceBuffer.GetSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to access AEAD nonce buffer core [%w]", err)
	}
	if copied := copy(nonceBufferCore, nonce); copied != aead.ExpectedNonceLen() {
		return nil, fmt.Errorf(
			"failed to fill AEAD nonce buffer core %d =/= %d", copied, aead.ExpectedNonceLen(),
		)
	}
	if err := aead.SetNonce(nonceBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
	}

	return aead, nil
}

/*
EncryptData encrypt plain text

	@param ctx context.Context - execution context
	@param keyID string - the encryption key ID; the key must be able to seal
	@param plainText []byte - the plain text to encrypt, may be empty
	@param activeDBClient Database - existing database transaction
	@return key entry for the encryption, and the cipher text
*/
func (e *cryptoEngine) EncryptData(
	ctx context.Context, keyID string, plainText []byte, activeDBClient db.Database,
) (models.EncryptionKey, EncryptedData, error) {
	keyEntry, err := e.getEncryptionKey(ctx, keyID, activeDBClient)
	if err != nil {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf(
			"failed to get encryption key %s [%w]", keyID, err,
		)
	}

	if !keyEntry.State.CanSeal() || len(keyEntry.plainTextKey) == 0 {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf(
			"encryption key %s is %s [%w]", keyID, keyEntry.State, ErrKeyCannotSeal,
		)
	}

	aead, err := e.setupAEAD(ctx, keyEntry.plainTextKey, nil)
	if err != nil {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf(
			"failed to setup AEAD client [%w]", err,
		)
	}

	nonce, err := aead.Nonce().GetSlice()
	if err != nil {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf("failed to get nonce [%w]", err)
	}
	nonceCopy := make([]byte, aead.ExpectedNonceLen())
	if copied := copy(nonceCopy, nonce); copied != aead.ExpectedNonceLen() {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf(
			"failed to copy nonce %d =/= %d", copied, aead.ExpectedNonceLen(),
		)
	}

	framed := make([]byte, 0, len(plainText)+1)
	framed = append(framed, sealedFormatV1)
	framed = append(framed, plainText...)

	cipherText := make([]byte, aead.ExpectedCipherLen(int64(len(framed))))
	if err := aead.Seal(ctx, 0, framed, nil, cipherText); err != nil {
		return models.EncryptionKey{}, EncryptedData{}, fmt.Errorf(
			"failed to encrypt plain text [%w]", err,
		)
	}

	return keyEntry.EncryptionKey, EncryptedData{CipherText: cipherText, Nonce: nonceCopy}, nil
}

/*
DecryptData decrypt cipher text

	@param ctx context.Context - execution context
	@param keyID string - the encryption key ID
	@param encrypted EncryptedData - the cipher text to decrypt
	@param activeDBClient Database - existing database transaction
	@return key entry for the encryption, and the plain text
*/
func (e *cryptoEngine) DecryptData(
	ctx context.Context, keyID string, encrypted EncryptedData, activeDBClient db.Database,
) (models.EncryptionKey, []byte, error) {
	keyEntry, err := e.getEncryptionKey(ctx, keyID, activeDBClient)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EncryptionKey{}, nil, fmt.Errorf(
				"encryption key %s does not exist [%w]", keyID, ErrDecrypt,
			)
		}
		return models.EncryptionKey{}, nil, fmt.Errorf(
			"failed to get encryption key %s [%w]", keyID, err,
		)
	}

	if !keyEntry.State.CanOpen() || len(keyEntry.plainTextKey) == 0 {
		return models.EncryptionKey{}, nil, fmt.Errorf(
			"encryption key %s is %s [%w]", keyID, keyEntry.State, ErrDecrypt,
		)
	}

	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return models.EncryptionKey{}, nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}
	if len(encrypted.Nonce) != aead.ExpectedNonceLen() {
		return models.EncryptionKey{}, nil, fmt.Errorf(
			"nonce length %d =/= %d [%w]", len(encrypted.Nonce), aead.ExpectedNonceLen(), ErrDecrypt,
		)
	}
	if minLen := int(aead.ExpectedCipherLen(1)); len(encrypted.CipherText) < minLen {
		return models.EncryptionKey{}, nil, fmt.Errorf(
			"cipher text shorter than %d bytes [%w]", minLen, ErrDecrypt,
		)
	}

	aead, err = e.setupAEAD(ctx, keyEntry.plainTextKey, encrypted.Nonce)
	if err != nil {
		return models.EncryptionKey{}, nil, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	framed := make([]byte, aead.ExpectedPlainTextLen(int64(len(encrypted.CipherText))))
	if err := aead.Unseal(ctx, 0, encrypted.CipherText, nil, framed); err != nil {
		return models.EncryptionKey{}, nil, fmt.Errorf(
			"failed to decrypt cipher text: %s [%w]", err.Error(), ErrDecrypt,
		)
	}
	if len(framed) == 0 || framed[0] != sealedFormatV1 {
		return models.EncryptionKey{}, nil, fmt.Errorf("unknown sealed payload format [%w]", ErrDecrypt)
	}

	return keyEntry.EncryptionKey, framed[1:], nil
}

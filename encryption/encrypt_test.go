package encryption_test

import (
	"context"
	"testing"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/ephemera/encryption"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCryptoEngineEncryptData(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, _ := newTestEngine(t)

	testKey, err := uut.NewEncryptionKey(utCtx, nil)
	assert.Nil(err)

	random := make([]byte, 1024)
	{
		coreCrypto, err := cgoCrypto.NewEngine(log.Fields{
			"package": "cgoutils", "module": "crypto", "component": "crypto-engine",
		})
		assert.Nil(err)
		read, err := coreCrypto.GetRNGReader().Read(random)
		assert.Nil(err)
		assert.Equal(len(random), read)
	}

	for _, plainText := range [][]byte{random, []byte("hello"), {}, []byte("héllo ✓")} {
		encKey, sealed, err := uut.EncryptData(utCtx, testKey.ID, plainText, nil)
		assert.Nil(err)
		assert.Equal(testKey.ID, encKey.ID)
		assert.NotEmpty(sealed.Nonce)

		_, decrypted, err := uut.DecryptData(utCtx, testKey.ID, sealed, nil)
		assert.Nil(err)
		assert.Equal(len(plainText), len(decrypted))
		if len(plainText) > 0 {
			assert.Equal(plainText, decrypted)
		}
	}

	// Nonces are unique per seal
	_, first, err := uut.EncryptData(utCtx, testKey.ID, []byte("same"), nil)
	assert.Nil(err)
	_, second, err := uut.EncryptData(utCtx, testKey.ID, []byte("same"), nil)
	assert.Nil(err)
	assert.NotEqual(first.Nonce, second.Nonce)
	assert.NotEqual(first.CipherText, second.CipherText)
}

func TestCryptoEngineDecryptFailures(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, _ := newTestEngine(t)

	key1, err := uut.NewEncryptionKey(utCtx, nil)
	assert.Nil(err)
	key2, err := uut.NewEncryptionKey(utCtx, nil)
	assert.Nil(err)

	_, sealed, err := uut.EncryptData(utCtx, key1.ID, []byte("do not touch"), nil)
	assert.Nil(err)

	// Flipped cipher text bit
	{
		tampered := encryption.EncryptedData{
			CipherText: append([]byte{}, sealed.CipherText...), Nonce: sealed.Nonce,
		}
		tampered.CipherText[0] ^= 0x01
		_, _, err := uut.DecryptData(utCtx, key1.ID, tampered, nil)
		assert.ErrorIs(err, encryption.ErrDecrypt)
	}

	// Truncated
	{
		truncated := encryption.EncryptedData{CipherText: sealed.CipherText[:4], Nonce: sealed.Nonce}
		_, _, err := uut.DecryptData(utCtx, key1.ID, truncated, nil)
		assert.ErrorIs(err, encryption.ErrDecrypt)
	}

	// Wrong nonce length
	{
		badNonce := encryption.EncryptedData{CipherText: sealed.CipherText, Nonce: []byte{1, 2, 3}}
		_, _, err := uut.DecryptData(utCtx, key1.ID, badNonce, nil)
		assert.ErrorIs(err, encryption.ErrDecrypt)
	}

	// Opened with a different key
	{
		_, _, err := uut.DecryptData(utCtx, key2.ID, sealed, nil)
		assert.ErrorIs(err, encryption.ErrDecrypt)
	}

	// Key unknown to this deployment
	{
		_, _, err := uut.DecryptData(utCtx, uuid.NewString(), sealed, nil)
		assert.ErrorIs(err, encryption.ErrDecrypt)
	}

	// The original still opens
	_, plain, err := uut.DecryptData(utCtx, key1.ID, sealed, nil)
	assert.Nil(err)
	assert.Equal([]byte("do not touch"), plain)
}

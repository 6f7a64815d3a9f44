package store_test

import (
	"context"
	"testing"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoBoxRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	utCtx := context.Background()

	for _, plainText := range [][]byte{
		{}, []byte("plain ascii"), []byte("ünïcödé ✓"), {0x00, 0xff, 0xfe, 0x80, 0x00},
	} {
		sealed, err := env.box.Seal(utCtx, plainText, nil)
		assert.Nil(err)
		assert.Equal(env.box.WorkingKeyID(), sealed.EncKeyID)
		assert.NotEqual(plainText, sealed.EncValue)

		opened, err := env.box.Open(utCtx, sealed, nil)
		assert.Nil(err)
		assert.Equal(len(plainText), len(opened))
		if len(plainText) > 0 {
			assert.Equal(plainText, opened)
		}
	}

	// Tampering is detected
	sealed, err := env.box.Seal(utCtx, []byte("integrity"), nil)
	require.Nil(t, err)
	sealed.EncValue[len(sealed.EncValue)-1] ^= 0x01
	_, err = env.box.Open(utCtx, sealed, nil)
	assert.ErrorIs(err, encryption.ErrDecrypt)
}

func TestCryptoBoxRotation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	utCtx := context.Background()

	oldKey := env.box.WorkingKeyID()
	oldSealed, err := env.box.Seal(utCtx, []byte("before rotation"), nil)
	require.Nil(t, err)

	newKey, err := env.box.RotateWorkingKey(utCtx)
	require.Nil(t, err)
	assert.NotEqual(oldKey, newKey.ID)
	assert.Equal(newKey.ID, env.box.WorkingKeyID())

	retired, err := env.engine.GetEncryptionKey(utCtx, oldKey, nil)
	assert.Nil(err)
	assert.Equal(models.EncryptionKeyStateRetired, retired.State)

	opened, err := env.box.Open(utCtx, oldSealed, nil)
	assert.Nil(err)
	assert.Equal("before rotation", string(opened))

	// A second box picks the newest active key
	other, err := store.NewCryptoBox(utCtx, env.dbClient, env.engine)
	require.Nil(t, err)
	assert.Equal(newKey.ID, other.WorkingKeyID())

	// Rotation by another box is picked up on the next seal
	rotated, err := other.RotateWorkingKey(utCtx)
	require.Nil(t, err)
	sealed, err := env.box.Seal(utCtx, []byte("after"), nil)
	assert.Nil(err)
	assert.Equal(rotated.ID, sealed.EncKeyID)
	assert.Equal(rotated.ID, env.box.WorkingKeyID())

	active, err := env.engine.ListEncryptionKeys(utCtx, db.EncryptionKeyQueryFilter{
		TargetState: []models.EncryptionKeyStateENUMType{models.EncryptionKeyStateActive},
	}, nil)
	assert.Nil(err)
	assert.Len(active, 1)
}

func TestCryptoBoxKeyAdministration(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	notes, _, _ := env.noteManager(t, 0)
	utCtx := context.Background()

	firstKey := env.box.WorkingKeyID()
	sealed, err := env.box.Seal(utCtx, []byte("sealed by the first key"), nil)
	require.Nil(t, err)

	// Case 0: disabling the working key selects a new one
	disabled, err := env.box.SetKeyState(utCtx, firstKey, models.EncryptionKeyStateInactive)
	assert.Nil(err)
	assert.Equal(models.EncryptionKeyStateInactive, disabled.State)
	secondKey := env.box.WorkingKeyID()
	assert.NotEqual(firstKey, secondKey)
	_, err = env.box.Open(utCtx, sealed, nil)
	assert.ErrorIs(err, encryption.ErrDecrypt)

	// Case 1: re-enabling restores access without changing the working key
	_, err = env.box.SetKeyState(utCtx, firstKey, models.EncryptionKeyStateActive)
	assert.Nil(err)
	assert.Equal(secondKey, env.box.WorkingKeyID())
	opened, err := env.box.Open(utCtx, sealed, nil)
	assert.Nil(err)
	assert.Equal("sealed by the first key", string(opened))

	_, err = env.box.SetKeyState(utCtx, firstKey, "SUSPENDED")
	assert.ErrorIs(err, store.ErrValidation)

	keys, err := env.box.ListKeys(utCtx)
	assert.Nil(err)
	require.Len(t, keys, 2)
	assert.Equal(secondKey, keys[0].ID)
	assert.Equal(firstKey, keys[1].ID)

	// Case 2: deletion
	assert.ErrorIs(env.box.DeleteKey(utCtx, secondKey), store.ErrValidation)
	assert.Nil(env.box.DeleteKey(utCtx, firstKey))
	keys, err = env.box.ListKeys(utCtx)
	assert.Nil(err)
	assert.Len(keys, 1)

	// A key still sealing a stored note is kept
	note, err := notes.Create(utCtx, store.CreateNoteParams{PlainText: []byte("n"), Selector: "1w"})
	require.Nil(t, err)
	assert.Equal(secondKey, note.EncKeyID)
	_, err = env.box.RotateWorkingKey(utCtx)
	require.Nil(t, err)
	assert.Error(env.box.DeleteKey(utCtx, secondKey))
	status, err := notes.Status(utCtx, note.ID)
	assert.Nil(err)
	assert.False(status.HasPassword)
}

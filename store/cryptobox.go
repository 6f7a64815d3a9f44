package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// CryptoBox seals note text with the current working data key, and opens text sealed
// by any key still able to open
type CryptoBox interface {
	// WorkingKeyID ID of the data key currently used for sealing
	WorkingKeyID() string

	/*
		Seal encrypt plain text with the working key

			@param ctx context.Context - execution context
			@param plainText []byte - the plain text, may be empty
			@param activeDBClient Database - existing database transaction
			@returns the sealed value
	*/
	Seal(
		ctx context.Context, plainText []byte, activeDBClient db.Database,
	) (models.SealedValue, error)

	/*
		Open decrypt a sealed value

			@param ctx context.Context - execution context
			@param sealed models.SealedValue - the sealed value
			@param activeDBClient Database - existing database transaction
			@returns the plain text. Tampered or foreign data wraps encryption.ErrDecrypt.
	*/
	Open(
		ctx context.Context, sealed models.SealedValue, activeDBClient db.Database,
	) ([]byte, error)

	/*
		RotateWorkingKey define a new working key and retire the previous one. Values sealed
		by the previous key remain readable.

			@param ctx context.Context - execution context
			@returns the new working key
	*/
	RotateWorkingKey(ctx context.Context) (models.EncryptionKey, error)

	// ListKeys list every data key, newest first
	ListKeys(ctx context.Context) ([]models.EncryptionKey, error)

	/*
		SetKeyState move a data key to a new state. When the working key can no longer seal,
		another working key is selected, or defined when no other key is active.

			@param ctx context.Context - execution context
			@param keyID string - the key
			@param state models.EncryptionKeyStateENUMType - the new state
			@returns the updated key
	*/
	SetKeyState(
		ctx context.Context, keyID string, state models.EncryptionKeyStateENUMType,
	) (models.EncryptionKey, error)

	/*
		DeleteKey delete a data key. The working key, and keys which still seal stored
		values, can't be deleted.

			@param ctx context.Context - execution context
			@param keyID string - the key
	*/
	DeleteKey(ctx context.Context, keyID string) error
}

// cryptoBoxImpl implements CryptoBox
type cryptoBoxImpl struct {
	goutils.Component

	persistence  db.Client
	cryptoEngine encryption.CryptographyEngine

	keyLock    sync.RWMutex
	workingKey models.EncryptionKey
}

/*
NewCryptoBox define new crypto box. The newest active data key becomes the working key;
one is created when none is active.

	@param ctx context.Context - execution context
	@param persistence db.Client - persistence layer client
	@param cryptoEngine encryption.CryptographyEngine - cryptography engine
	@returns crypto box instance
*/
func NewCryptoBox(
	ctx context.Context, persistence db.Client, cryptoEngine encryption.CryptographyEngine,
) (CryptoBox, error) {
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "crypto-box"}

	instance := &cryptoBoxImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:  persistence,
		cryptoEngine: cryptoEngine,
	}

	if dbErr := persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return instance.refreshWorkingKey(dbCtx, dbClient)
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to prepare working encryption key [%w]", dbErr)
	}

	return instance, nil
}

// refreshWorkingKey select the newest active key, defining one when there is none
func (b *cryptoBoxImpl) refreshWorkingKey(ctx context.Context, dbClient db.Database) error {
	activeKeys, err := b.cryptoEngine.ListEncryptionKeys(
		ctx,
		db.EncryptionKeyQueryFilter{
			TargetState: []models.EncryptionKeyStateENUMType{models.EncryptionKeyStateActive},
		},
		dbClient,
	)
	if err != nil {
		return fmt.Errorf("failed to list active encryption keys [%w]", err)
	}

	var selected models.EncryptionKey
	if len(activeKeys) == 0 {
		selected, err = b.cryptoEngine.NewEncryptionKey(ctx, dbClient)
		if err != nil {
			return fmt.Errorf("failed to define new encryption key [%w]", err)
		}
	} else {
		selected = activeKeys[0]
	}

	b.keyLock.Lock()
	b.workingKey = selected
	b.keyLock.Unlock()

	log.WithFields(b.GetLogTagsForContext(ctx)).
		WithField("key-id", selected.ID).
		Debug("Selected working encryption key")
	return nil
}

func (b *cryptoBoxImpl) WorkingKeyID() string {
	b.keyLock.RLock()
	defer b.keyLock.RUnlock()
	return b.workingKey.ID
}

func (b *cryptoBoxImpl) Seal(
	ctx context.Context, plainText []byte, activeDBClient db.Database,
) (models.SealedValue, error) {
	var sealed models.SealedValue

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, b.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			usedKey, encrypted, err := b.cryptoEngine.EncryptData(
				dbCtx, b.WorkingKeyID(), plainText, dbClient,
			)
			if errors.Is(err, encryption.ErrKeyCannotSeal) {
				// Another process rotated the working key
				if err := b.refreshWorkingKey(dbCtx, dbClient); err != nil {
					return err
				}
				usedKey, encrypted, err = b.cryptoEngine.EncryptData(
					dbCtx, b.WorkingKeyID(), plainText, dbClient,
				)
			}
			if err != nil {
				return err
			}
			sealed = models.SealedValue{
				EncKeyID: usedKey.ID, EncValue: encrypted.CipherText, EncNonce: encrypted.Nonce,
			}
			return nil
		},
	); dbErr != nil {
		return models.SealedValue{}, fmt.Errorf("failed to seal value [%w]", dbErr)
	}

	return sealed, nil
}

func (b *cryptoBoxImpl) Open(
	ctx context.Context, sealed models.SealedValue, activeDBClient db.Database,
) ([]byte, error) {
	var plainText []byte

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, b.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			_, plainText, err = b.cryptoEngine.DecryptData(
				dbCtx,
				sealed.EncKeyID,
				encryption.EncryptedData{CipherText: sealed.EncValue, Nonce: sealed.EncNonce},
				dbClient,
			)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to open sealed value [%w]", dbErr)
	}

	return plainText, nil
}

func (b *cryptoBoxImpl) RotateWorkingKey(ctx context.Context) (models.EncryptionKey, error) {
	previous := b.WorkingKeyID()
	var newKey models.EncryptionKey

	if dbErr := b.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			newKey, err = b.cryptoEngine.NewEncryptionKey(dbCtx, dbClient)
			if err != nil {
				return fmt.Errorf("failed to define new encryption key [%w]", err)
			}
			if previous != "" {
				if _, err := b.cryptoEngine.MarkEncryptionKeyRetired(dbCtx, previous, dbClient); err != nil {
					return fmt.Errorf("failed to retire encryption key %s [%w]", previous, err)
				}
			}
			return nil
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to rotate working key [%w]", dbErr)
	}

	b.keyLock.Lock()
	b.workingKey = newKey
	b.keyLock.Unlock()

	log.WithFields(b.GetLogTagsForContext(ctx)).
		WithField("retired-key-id", previous).
		WithField("key-id", newKey.ID).
		Info("Rotated working encryption key")
	return newKey, nil
}

func (b *cryptoBoxImpl) ListKeys(ctx context.Context) ([]models.EncryptionKey, error) {
	keys, err := b.cryptoEngine.ListEncryptionKeys(ctx, db.EncryptionKeyQueryFilter{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list encryption keys [%w]", err)
	}
	return keys, nil
}

func (b *cryptoBoxImpl) SetKeyState(
	ctx context.Context, keyID string, state models.EncryptionKeyStateENUMType,
) (models.EncryptionKey, error) {
	var updated models.EncryptionKey

	if dbErr := b.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			switch state {
			case models.EncryptionKeyStateActive:
				updated, err = b.cryptoEngine.MarkEncryptionKeyActive(dbCtx, keyID, dbClient)
			case models.EncryptionKeyStateRetired:
				updated, err = b.cryptoEngine.MarkEncryptionKeyRetired(dbCtx, keyID, dbClient)
			case models.EncryptionKeyStateInactive:
				updated, err = b.cryptoEngine.MarkEncryptionKeyInactive(dbCtx, keyID, dbClient)
			default:
				return fmt.Errorf("unknown key state '%s' [%w]", state, ErrValidation)
			}
			if err != nil {
				return err
			}
			if keyID == b.WorkingKeyID() && !state.CanSeal() {
				return b.refreshWorkingKey(dbCtx, dbClient)
			}
			return nil
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf(
			"failed to change encryption key %s state [%w]", keyID, dbErr,
		)
	}

	log.WithFields(b.GetLogTagsForContext(ctx)).
		WithField("key-id", keyID).
		WithField("state", state).
		WithField("working-key-id", b.WorkingKeyID()).
		Info("Changed encryption key state")
	return updated, nil
}

func (b *cryptoBoxImpl) DeleteKey(ctx context.Context, keyID string) error {
	if keyID == b.WorkingKeyID() {
		return fmt.Errorf("encryption key %s is the working key [%w]", keyID, ErrValidation)
	}
	if err := b.cryptoEngine.DeleteEncryptionKey(ctx, keyID, nil); err != nil {
		return err
	}
	log.WithFields(b.GetLogTagsForContext(ctx)).
		WithField("key-id", keyID).
		Info("Deleted encryption key")
	return nil
}

package encryption

import (
	"context"
	"fmt"

	"github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/models"
	"github.com/apex/log"
)

/*
NewEncryptionKey define a new symmetric encryption key

	@param ctx context.Context - execution context
	@param activeDBClient Database - existing database transaction
	@returns the key entry
*/
func (e *cryptoEngine) NewEncryptionKey(
	ctx context.Context, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	rng := e.crypto.GetRNGReader()

	aead, err := e.crypto.GetAEAD(ctx, crypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return models.EncryptionKey{}, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	keyLen := aead.ExpectedKeyLen()

	newKey := make([]byte, keyLen)
	if n, err := rng.Read(newKey); err != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to read %d bytes from RNG [%w]", keyLen, err)
	} else if n != keyLen {
		return models.EncryptionKey{}, fmt.Errorf("did not get %d bytes from RNG, only %d", keyLen, n)
	}

	// Wrap the key for storage
	newKeyEnc, err := e.crypto.RSAEncrypt(ctx, newKey, e.rsaPubKey, nil)
	if err != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to encrypt symmetric enc key [%w]", err)
	}

	var keyEntry models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			keyEntry, err = dbClient.RecordEncryptionKey(dbCtx, newKeyEnc)
			return err
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to record new encryption key [%w]", dbErr)
	}

	e.writeKeyToCache(keyEntry, newKey)

	log.WithFields(e.GetLogTagsForContext(ctx)).
		WithField("key_id", keyEntry.ID).
		Info("Defined new data encryption key")

	return keyEntry, nil
}

// writeKeyToCache write key into cache for use
func (e *cryptoEngine) writeKeyToCache(keyEntry models.EncryptionKey, plainKey []byte) {
	e.keyCacheLock.Lock()
	defer e.keyCacheLock.Unlock()
	e.encKeys[keyEntry.ID] = encKeyCacheEntry{EncryptionKey: keyEntry, plainTextKey: plainKey}
}

// getCachedKey helper function to read a key from cache
func (e *cryptoEngine) getCachedKey(keyID string) (encKeyCacheEntry, bool) {
	e.keyCacheLock.RLock()
	defer e.keyCacheLock.RUnlock()
	entry, ok := e.encKeys[keyID]
	return entry, ok
}

// cacheKey unwrap and cache a key; only keys which can open data are cached
func (e *cryptoEngine) cacheKey(
	ctx context.Context, keyEntry models.EncryptionKey,
) (encKeyCacheEntry, error) {
	if !keyEntry.State.CanOpen() {
		e.uncacheKey(keyEntry.ID)
		return encKeyCacheEntry{EncryptionKey: keyEntry}, nil
	}

	key, err := e.crypto.RSADecrypt(ctx, keyEntry.EncKeyMaterial, e.rsaKey, nil)
	if err != nil {
		return encKeyCacheEntry{EncryptionKey: keyEntry}, fmt.Errorf(
			"failed to decrypt symmetric key %s [%w]", keyEntry.ID, err,
		)
	}

	e.writeKeyToCache(keyEntry, key)

	return encKeyCacheEntry{EncryptionKey: keyEntry, plainTextKey: key}, nil
}

// uncacheKey remove a key from cache
func (e *cryptoEngine) uncacheKey(keyID string) {
	e.keyCacheLock.Lock()
	defer e.keyCacheLock.Unlock()
	delete(e.encKeys, keyID)
}

// getEncryptionKey core function for fetching on encryption key
//
// The key state always comes from the DB; the cache only holds the unwrapped material.
func (e *cryptoEngine) getEncryptionKey(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (encKeyCacheEntry, error) {
	var keyEntry models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			keyEntry, err = dbClient.GetEncryptionKey(dbCtx, keyID)
			return err
		},
	); dbErr != nil {
		return encKeyCacheEntry{}, fmt.Errorf("encryption key %s unknown [%w]", keyID, dbErr)
	}

	if !keyEntry.State.CanOpen() {
		e.uncacheKey(keyID)
		return encKeyCacheEntry{EncryptionKey: keyEntry}, nil
	}

	if cached, ok := e.getCachedKey(keyID); ok {
		cached.EncryptionKey = keyEntry
		return cached, nil
	}

	plainKey, err := e.cacheKey(ctx, keyEntry)
	if err != nil {
		return encKeyCacheEntry{}, fmt.Errorf("unable to cache encryption key %s [%w]", keyID, err)
	}
	return plainKey, nil
}

/*
GetEncryptionKey fetch one encryption key

	@param ctx context.Context - execution context
	@param keyID string - the encryption key ID
	@param activeDBClient Database - existing database transaction
	@return key entry
*/
func (e *cryptoEngine) GetEncryptionKey(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	keyEntry, err := e.getEncryptionKey(ctx, keyID, activeDBClient)
	return keyEntry.EncryptionKey, err
}

/*
ListEncryptionKeys list encryption keys

	@param ctx context.Context - execution context
	@param filters EncryptionKeyQueryFilter - entry listing filter
	@param activeDBClient Database - existing database transaction
	@return list of keys
*/
func (e *cryptoEngine) ListEncryptionKeys(
	ctx context.Context, filters db.EncryptionKeyQueryFilter, activeDBClient db.Database,
) ([]models.EncryptionKey, error) {
	var keyEntries []models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			keyEntries, err = dbClient.ListEncryptionKeys(dbCtx, filters)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list encryption keys [%w]", dbErr)
	}

	// Keep the cache in line with the listed states
	for _, entry := range keyEntries {
		if !entry.State.CanOpen() {
			e.uncacheKey(entry.ID)
			continue
		}
		if _, cached := e.getCachedKey(entry.ID); !cached {
			if _, err := e.cacheKey(ctx, entry); err != nil {
				return nil, fmt.Errorf("unable to cache encryption key %s [%w]", entry.ID, err)
			}
		}
	}

	return keyEntries, nil
}

// changeKeyState apply one state change and refresh the cache
func (e *cryptoEngine) changeKeyState(
	ctx context.Context,
	keyID string,
	newState models.EncryptionKeyStateENUMType,
	activeDBClient db.Database,
) (models.EncryptionKey, error) {
	var keyEntry models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			switch newState {
			case models.EncryptionKeyStateActive:
				err = dbClient.MarkEncryptionKeyActive(dbCtx, keyID)
			case models.EncryptionKeyStateRetired:
				err = dbClient.MarkEncryptionKeyRetired(dbCtx, keyID)
			default:
				err = dbClient.MarkEncryptionKeyInactive(dbCtx, keyID)
			}
			if err != nil {
				return fmt.Errorf("failed to mark encryption key %s %s [%w]", keyID, newState, err)
			}
			keyEntry, err = dbClient.GetEncryptionKey(dbCtx, keyID)
			if err != nil {
				return fmt.Errorf("failed to fetch encryption key %s [%w]", keyID, err)
			}
			return nil
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf(
			"encryption key %s state change failed [%w]", keyID, dbErr,
		)
	}

	if _, err := e.cacheKey(ctx, keyEntry); err != nil {
		return models.EncryptionKey{}, fmt.Errorf(
			"unable to cache encryption key %s [%w]", keyEntry.ID, err,
		)
	}

	log.WithFields(e.GetLogTagsForContext(ctx)).
		WithField("key_id", keyID).
		WithField("state", keyEntry.State).
		Info("Encryption key state changed")

	return keyEntry, nil
}

// MarkEncryptionKeyActive mark encryption key is active
func (e *cryptoEngine) MarkEncryptionKeyActive(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	return e.changeKeyState(ctx, keyID, models.EncryptionKeyStateActive, activeDBClient)
}

// MarkEncryptionKeyRetired mark encryption key may only open existing data
func (e *cryptoEngine) MarkEncryptionKeyRetired(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	return e.changeKeyState(ctx, keyID, models.EncryptionKeyStateRetired, activeDBClient)
}

// MarkEncryptionKeyInactive mark encryption key is inactive
func (e *cryptoEngine) MarkEncryptionKeyInactive(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	return e.changeKeyState(ctx, keyID, models.EncryptionKeyStateInactive, activeDBClient)
}

/*
DeleteEncryptionKey delete encryption key

	@param ctx context.Context - execution context
	@param keyID string - the encryption key ID
	@param activeDBClient Database - existing database transaction
*/
func (e *cryptoEngine) DeleteEncryptionKey(
	ctx context.Context, keyID string, activeDBClient db.Database,
) error {
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteEncryptionKey(dbCtx, keyID)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete encryption key %s [%w]", keyID, dbErr)
	}

	e.uncacheKey(keyID)

	return nil
}

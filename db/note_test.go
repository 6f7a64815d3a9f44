package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func makeTestNote(keyID string, createdAt expiry.Instant, expiresAt expiry.NullInstant) models.SecretNote {
	return models.SecretNote{
		ID: uuid.NewString(),
		SealedValue: models.SealedValue{
			EncKeyID: keyID, EncValue: []byte("sealed"), EncNonce: []byte("nonce"),
		},
		DeleteAfterRead: !expiresAt.Valid,
		ExpiresAt:       expiresAt,
		CreatedAt:       createdAt,
	}
}

func TestDBSecretNoteBasic(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)
	keyID := recordTestKey(t, uut)

	clock := expiry.NewManualClock(time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC))

	// Password flag and hash must agree
	{
		note := makeTestNote(keyID, clock.Now(), expiry.None())
		note.HasPassword = true
		assert.Error(
			uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
				_, err := dbClient.CreateSecretNote(ctx, note)
				return err
			}),
		)
	}

	// Missing creation instant
	{
		note := makeTestNote(keyID, expiry.Instant{}, expiry.None())
		assert.Error(
			uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
				_, err := dbClient.CreateSecretNote(ctx, note)
				return err
			}),
		)
	}

	// Valid note with a password
	hash := "$2a$04$placeholder"
	note := makeTestNote(keyID, clock.Now(), expiry.Some(clock.Now().AddDays(1)))
	note.HasPassword = true
	note.PasswordHash = &hash
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateSecretNote(ctx, note)
			return err
		}),
	)

	assert.Nil(
		uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			read, err := dbClient.GetSecretNote(ctx, note.ID)
			assert.Nil(err)
			assert.Equal(note.SealedValue, read.SealedValue)
			assert.True(read.ExpiresAt.Valid)
			assert.True(note.ExpiresAt.Instant.Equal(read.ExpiresAt.Instant))
			assert.True(note.CreatedAt.Equal(read.CreatedAt))
			assert.True(read.HasPassword)
			assert.Equal(hash, *read.PasswordHash)
			return err
		}),
	)

	// Consume once, then gone
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			removed, err := dbClient.ConsumeSecretNote(ctx, note.ID)
			assert.True(removed)
			return err
		}),
	)
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			removed, err := dbClient.ConsumeSecretNote(ctx, note.ID)
			assert.False(removed)
			return err
		}),
	)
	err := uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		_, err := dbClient.GetSecretNote(ctx, note.ID)
		return err
	})
	assert.True(errors.Is(err, gorm.ErrRecordNotFound))

	// Deleting a missing note is fine
	assert.Nil(
		uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			return dbClient.DeleteSecretNote(ctx, note.ID)
		}),
	)
}

func TestDBSecretNoteConcurrentConsume(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.InfoLevel)

	utCtx := context.Background()
	uut := newTestClient(t)
	keyID := recordTestKey(t, uut)

	note := makeTestNote(keyID, expiry.SystemClock{}.Now(), expiry.None())
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			_, err := dbClient.CreateSecretNote(ctx, note)
			return err
		}),
	)

	const readers = 8
	results := make(chan bool, readers)
	wg := sync.WaitGroup{}
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var removed bool
			assert.Nil(
				uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
					var err error
					removed, err = dbClient.ConsumeSecretNote(ctx, note.ID)
					return err
				}),
			)
			results <- removed
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for removed := range results {
		if removed {
			winners++
		}
	}
	assert.Equal(1, winners)
}

func TestDBSecretNoteExpiredPurge(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)
	keyID := recordTestKey(t, uut)

	clock := expiry.NewManualClock(time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC))
	t0 := clock.Now()

	readOnce := makeTestNote(keyID, t0, expiry.None())
	oneDay := makeTestNote(keyID, t0, expiry.Some(t0.AddDays(1)))
	oneWeek := makeTestNote(keyID, t0, expiry.Some(t0.AddDays(7)))
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			for _, note := range []models.SecretNote{readOnce, oneDay, oneWeek} {
				if _, err := dbClient.CreateSecretNote(ctx, note); err != nil {
					return err
				}
			}
			return nil
		}),
	)

	purge := func(now expiry.Instant) int64 {
		var purged int64
		assert.Nil(
			uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
				var err error
				purged, err = dbClient.DeleteExpiredSecretNotes(ctx, now)
				return err
			}),
		)
		return purged
	}

	// Nothing expired yet
	assert.EqualValues(0, purge(t0.Add(time.Hour)))

	// Exactly at expiry counts as expired
	assert.EqualValues(1, purge(t0.AddDays(1)))
	assert.EqualValues(0, purge(t0.AddDays(1)))

	// Listing with ActiveAt hides the expired week note later on
	assert.Nil(
		uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			now := t0.AddDays(8)
			notes, err := dbClient.ListSecretNotes(ctx, db.ArchiveQueryFilter{ActiveAt: &now})
			assert.Nil(err)
			assert.Len(notes, 1)
			assert.Equal(readOnce.ID, notes[0].ID)
			return err
		}),
	)

	// Read-once notes never expire by time
	assert.EqualValues(1, purge(t0.AddDays(365)))
	assert.Nil(
		uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			notes, err := dbClient.ListSecretNotes(ctx, db.ArchiveQueryFilter{})
			assert.Nil(err)
			assert.Len(notes, 1)
			return err
		}),
	)

	// Purges are audited without note IDs
	assert.Nil(
		uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
			events, err := dbClient.ListSystemEvents(ctx, db.SystemEventQueryFilter{
				EventTypes: []models.SystemEventTypeENUMType{models.SystemEventTypeNotesPurged},
			})
			assert.Nil(err)
			assert.Len(events, 2)
			for _, e := range events {
				assert.NotContains(string(e.Metadata), oneDay.ID)
				assert.NotContains(string(e.Metadata), oneWeek.ID)
			}
			return err
		}),
	)
}

func TestDBSecretNoteListing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)
	keyID := recordTestKey(t, uut)

	t0 := expiry.MustInstant(time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC))
	readOnce := makeTestNote(keyID, t0, expiry.None())
	oneDay := makeTestNote(keyID, t0.Add(time.Minute), expiry.Some(t0.AddDays(1)))
	oneWeek := makeTestNote(keyID, t0.Add(2*time.Minute), expiry.Some(t0.AddDays(7)))
	assert.Nil(
		uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
			for _, note := range []models.SecretNote{readOnce, oneDay, oneWeek} {
				if _, err := dbClient.CreateSecretNote(ctx, note); err != nil {
					return err
				}
			}
			return nil
		}),
	)

	list := func(filter db.ArchiveQueryFilter) []string {
		ids := []string{}
		assert.Nil(
			uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
				notes, err := dbClient.ListSecretNotes(ctx, filter)
				for _, note := range notes {
					ids = append(ids, note.ID)
				}
				return err
			}),
		)
		return ids
	}
	onDay := func(day int) *expiry.Instant {
		instant := expiry.MustInstant(time.Date(2025, 4, day, 12, 0, 0, 0, time.UTC))
		return &instant
	}

	// A day matches the creation or the expiry of a note
	assert.Equal([]string{oneWeek.ID, oneDay.ID, readOnce.ID}, list(db.ArchiveQueryFilter{OnDay: onDay(1)}))
	assert.Equal([]string{oneDay.ID}, list(db.ArchiveQueryFilter{OnDay: onDay(2)}))
	assert.Equal([]string{oneWeek.ID}, list(db.ArchiveQueryFilter{OnDay: onDay(8)}))
	assert.Empty(list(db.ArchiveQueryFilter{OnDay: onDay(5)}))

	// Day and activity filters combine
	activeAt := t0.AddDays(3)
	assert.Equal(
		[]string{oneWeek.ID, readOnce.ID},
		list(db.ArchiveQueryFilter{OnDay: onDay(1), ActiveAt: &activeAt}),
	)
	assert.Equal(
		[]string{oneWeek.ID},
		list(db.ArchiveQueryFilter{OnDay: onDay(1), ActiveAt: &activeAt, IDContains: strPtr(oneWeek.ID[:8])}),
	)
}

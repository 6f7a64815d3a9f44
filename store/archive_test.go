package store_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealText(t *testing.T, env *testEnv, text string) models.SealedValue {
	sealed, err := env.box.Seal(context.Background(), []byte(text), nil)
	require.Nil(t, err)
	return sealed
}

func TestRetentionStore(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewRetentionStore(env.dbClient, env.box, env.clock)
	utCtx := context.Background()

	// Case 0: invalid requests
	{
		_, err := uut.Archive(utCtx, store.ArchiveParams{
			NoteID: uuid.NewString(), Sealed: sealText(t, env, "x"),
		}, nil)
		assert.ErrorIs(err, store.ErrValidation)
		_, err = uut.Archive(utCtx, store.ArchiveParams{
			NoteID: "nope", Sealed: sealText(t, env, "x"), TTL: time.Hour,
		}, nil)
		assert.ErrorIs(err, store.ErrValidation)
	}

	// Case 1: copies with different lifetimes
	longText := strings.Repeat("ж", 40)
	shortLived := uuid.NewString()
	longLived := uuid.NewString()
	{
		_, err := uut.Archive(utCtx, store.ArchiveParams{
			NoteID: shortLived, Sealed: sealText(t, env, "short"), TTL: time.Hour,
		}, nil)
		assert.Nil(err)
		env.clock.Advance(time.Second)
		_, err = uut.Archive(utCtx, store.ArchiveParams{
			NoteID: longLived, Sealed: sealText(t, env, longText), TTL: 3 * time.Hour,
			HadPassword: true,
		}, nil)
		assert.Nil(err)

		views, err := uut.ListPage(utCtx, store.PageQuery{})
		assert.Nil(err)
		require.Len(t, views, 2)
		// Newest first
		assert.Equal(longLived, views[0].Entry.NoteID)
		assert.Equal(longText, string(views[0].PlainText))
		assert.Equal(strings.Repeat("ж", 30)+"…", views[0].Preview)
		assert.Equal("short", views[1].Preview)

		// Filters
		views, err = uut.ListPage(utCtx, store.PageQuery{
			IDContains: strPtr(strings.ToUpper(shortLived[:8])),
		})
		assert.Nil(err)
		require.Len(t, views, 1)
		assert.Equal(shortLived, views[0].Entry.NoteID)

		views, err = uut.ListPage(utCtx, store.PageQuery{PageSize: 1, Page: 2})
		assert.Nil(err)
		require.Len(t, views, 1)
		assert.Equal(shortLived, views[0].Entry.NoteID)

		otherDay := expiry.MustInstant(testStart.Add(-48 * time.Hour))
		views, err = uut.ListPage(utCtx, store.PageQuery{OnDay: &otherDay})
		assert.Nil(err)
		assert.Empty(views)
	}

	// Case 2: expired copies are hidden, then purged
	{
		env.clock.Advance(time.Hour)
		views, err := uut.ListPage(utCtx, store.PageQuery{})
		assert.Nil(err)
		require.Len(t, views, 1)
		assert.Equal(longLived, views[0].Entry.NoteID)

		removed, err := uut.PurgeExpired(utCtx)
		assert.Nil(err)
		assert.Equal(int64(1), removed)
		removed, err = uut.PurgeExpired(utCtx)
		assert.Nil(err)
		assert.Equal(int64(0), removed)
	}

	// Case 3: undecryptable copies are reported, not fatal
	{
		keyID := env.box.WorkingKeyID()
		_, err := env.engine.MarkEncryptionKeyInactive(utCtx, keyID, nil)
		require.Nil(t, err)
		views, err := uut.ListPage(utCtx, store.PageQuery{})
		assert.Nil(err)
		require.Len(t, views, 1)
		assert.True(views[0].DecryptFailed)
		assert.Empty(views[0].PlainText)
	}
}

func TestFlaggedStore(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewFlaggedStore(env.dbClient, env.box, env.clock)
	utCtx := context.Background()

	noteID := uuid.NewString()

	_, err := uut.Flag(utCtx, noteID, sealText(t, env, "text"), nil, nil)
	assert.ErrorIs(err, store.ErrValidation)
	_, err = uut.Flag(utCtx, "bad-id", sealText(t, env, "text"), []string{"x"}, nil)
	assert.ErrorIs(err, store.ErrValidation)

	first, err := uut.Flag(utCtx, noteID, sealText(t, env, "first"), []string{"alpha"}, nil)
	assert.Nil(err)
	assert.Equal("alpha", first.MatchedTerms)

	// Flagging again replaces the copy
	env.clock.Advance(time.Minute)
	second, err := uut.Flag(
		utCtx, noteID, sealText(t, env, "second"), []string{"alpha", "beta"}, nil,
	)
	assert.Nil(err)
	assert.Equal("alpha, beta", second.MatchedTerms)
	assert.True(first.CreatedAt.Equal(second.CreatedAt))

	for idx := 0; idx < 3; idx++ {
		_, err := uut.Flag(
			utCtx,
			uuid.NewString(),
			sealText(t, env, fmt.Sprintf("other %d", idx)),
			[]string{"gamma"},
			nil,
		)
		assert.Nil(err)
	}

	views, err := uut.ListPage(utCtx, store.PageQuery{MatchedTermsContains: strPtr("BETA")})
	assert.Nil(err)
	require.Len(t, views, 1)
	assert.Equal(noteID, views[0].Entry.NoteID)
	assert.Equal("second", string(views[0].PlainText))

	views, err = uut.ListPage(utCtx, store.PageQuery{})
	assert.Nil(err)
	assert.Len(views, 4)

	_, err = uut.ListPage(utCtx, store.PageQuery{PageSize: 1000})
	assert.ErrorIs(err, store.ErrValidation)
}

func TestTermPolicy(t *testing.T) {
	assert := assert.New(t)

	uut := store.NewTermPolicy([]string{" Drugs ", "", "drugs", "WEAPON"})
	assert.Equal([]string{"Drugs", "WEAPON"}, uut.Match([]byte("selling weapons and DRUGS")))
	assert.Empty(uut.Match([]byte("a quiet note")))

	assert.Empty(store.NewTermPolicy(nil).Match([]byte("drugs")))
}

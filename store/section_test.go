package store_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/ephemera/blobs"
	mockblobs "github.com/alwitt/ephemera/mocks/blobs"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func textUpload(name, content string) store.UploadFile {
	return store.UploadFile{
		Name: name, Size: int64(len(content)), Content: strings.NewReader(content),
	}
}

func readFile(t *testing.T, uut store.SectionManager, slug, fileID string) string {
	_, reader, err := uut.OpenFile(context.Background(), slug, fileID)
	require.Nil(t, err)
	defer func() { _ = reader.Close() }()
	content, err := io.ReadAll(reader)
	require.Nil(t, err)
	return string(content)
}

func TestSectionCreate(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	// Case 0: random storage names keep the extension
	{
		view, err := uut.Create(utCtx, store.CreateSectionParams{
			Title:        "  holiday  ",
			LifetimeDays: 3,
			Files: []store.UploadFile{
				textUpload("beach.JPG", "sand"), textUpload("notes", "sun"),
			},
		})
		require.Nil(t, err)
		assert.Equal("holiday", view.Section.Title)
		assert.Len(view.Section.Slug, models.SectionSlugLength)
		require.Len(t, view.Files, 2)
		assert.Equal("beach.JPG", view.Files[0].OriginalName)
		assert.True(strings.HasPrefix(view.Files[0].BlobRef, "sections/"+view.Section.Slug+"/"))
		assert.Equal(".jpg", path.Ext(view.Files[0].BlobRef))
		assert.NotContains(view.Files[0].BlobRef, "beach")
		assert.Equal("", path.Ext(view.Files[1].BlobRef))

		files, err := uut.ListFiles(utCtx, view.Section.Slug)
		assert.Nil(err)
		assert.Len(files, 2)
		assert.Equal("sand", readFile(t, uut, view.Section.Slug, view.Files[0].ID))
		assert.Equal("sun", readFile(t, uut, view.Section.Slug, view.Files[1].ID))

		// A file of one section can not be read through another slug
		other, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays: 1, Files: []store.UploadFile{textUpload("x.txt", "x")},
		})
		require.Nil(t, err)
		_, _, err = uut.OpenFile(utCtx, other.Section.Slug, view.Files[0].ID)
		assert.ErrorIs(err, store.ErrGone)
	}

	// Case 1: original names, with collisions resolved
	{
		view, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays:          1,
			KeepOriginalFilenames: true,
			Files: []store.UploadFile{
				textUpload("report.pdf", "one"),
				textUpload(`C:\Users\me\report.pdf`, "two"),
				textUpload("../../etc/passwd", "three"),
			},
		})
		require.Nil(t, err)
		require.Len(t, view.Files, 3)
		prefix := "sections/" + view.Section.Slug + "/"
		assert.Equal(prefix+"report.pdf", view.Files[0].BlobRef)
		assert.NotEqual(view.Files[0].BlobRef, view.Files[1].BlobRef)
		assert.True(strings.HasPrefix(view.Files[1].BlobRef, prefix+"report_"))
		assert.Equal(".pdf", path.Ext(view.Files[1].BlobRef))
		assert.Equal(prefix+"passwd", view.Files[2].BlobRef)
		assert.Equal("two", readFile(t, uut, view.Section.Slug, view.Files[1].ID))
	}
}

func TestSectionCreateValidation(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	for _, params := range []store.CreateSectionParams{
		{LifetimeDays: 1},
		{LifetimeDays: 0, Files: []store.UploadFile{textUpload("a", "a")}},
		{LifetimeDays: 1, Files: []store.UploadFile{{Name: "a", Size: 1}}},
		{
			LifetimeDays: 1,
			Files: []store.UploadFile{
				{Name: "big", Size: store.MaxSectionBytes, Content: strings.NewReader("")},
				textUpload("b", "b"),
			},
		},
	} {
		_, err := uut.Create(utCtx, params)
		assert.ErrorIs(err, store.ErrValidation)
	}
}

func TestSectionExpiry(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	view, err := uut.Create(utCtx, store.CreateSectionParams{
		LifetimeDays: 1, Files: []store.UploadFile{textUpload("a.txt", "alpha")},
	})
	require.Nil(t, err)
	slug := view.Section.Slug

	env.clock.Advance(23*time.Hour + 59*time.Minute)
	section, err := uut.Get(utCtx, slug)
	assert.Nil(err)
	assert.False(uut.IsExpired(section))

	env.clock.Advance(2 * time.Minute)
	assert.True(uut.IsExpired(section))
	_, err = uut.Get(utCtx, slug)
	assert.ErrorIs(err, store.ErrGone)
	_, err = uut.ListFiles(utCtx, slug)
	assert.ErrorIs(err, store.ErrGone)

	// Touching the expired section removed its blobs
	_, err = env.blobs.Open(utCtx, view.Files[0].BlobRef)
	assert.ErrorIs(err, blobs.ErrBlobNotFound)

	_, err = uut.Get(utCtx, "nosuch01")
	assert.ErrorIs(err, store.ErrGone)
	assert.ErrorIs(uut.Delete(utCtx, slug), store.ErrGone)
}

func TestSectionAddFileAndDelete(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	view, err := uut.Create(utCtx, store.CreateSectionParams{
		LifetimeDays: 2, KeepOriginalFilenames: true,
		Files: []store.UploadFile{textUpload("a.txt", "alpha")},
	})
	require.Nil(t, err)
	slug := view.Section.Slug

	env.clock.Advance(time.Minute)
	added, err := uut.AddFile(utCtx, slug, textUpload("a.txt", "again"))
	require.Nil(t, err)
	assert.NotEqual(view.Files[0].BlobRef, added.BlobRef)

	_, err = uut.AddFile(utCtx, slug, store.UploadFile{
		Name: "huge", Size: store.MaxSectionBytes, Content: strings.NewReader(""),
	})
	assert.ErrorIs(err, store.ErrValidation)

	files, err := uut.ListFiles(utCtx, slug)
	assert.Nil(err)
	require.Len(t, files, 2)
	assert.Equal(view.Files[0].ID, files[0].ID)
	assert.Equal(added.ID, files[1].ID)
	assert.Equal("again", readFile(t, uut, slug, added.ID))

	assert.Nil(uut.Delete(utCtx, slug))
	_, err = uut.Get(utCtx, slug)
	assert.ErrorIs(err, store.ErrGone)
	for _, file := range files {
		_, err = env.blobs.Open(utCtx, file.BlobRef)
		assert.ErrorIs(err, blobs.ErrBlobNotFound)
	}
}

func TestSectionSweep(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	slugs := map[int]string{}
	for _, days := range []int{1, 2, 5} {
		view, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays: days,
			Files:        []store.UploadFile{textUpload(fmt.Sprintf("%d.txt", days), "x")},
		})
		require.Nil(t, err)
		slugs[days] = view.Section.Slug
	}

	removed, err := uut.Sweep(utCtx)
	assert.Nil(err)
	assert.Equal(0, removed)

	env.clock.Advance(2 * 24 * time.Hour)
	removed, err = uut.Sweep(utCtx)
	assert.Nil(err)
	assert.Equal(2, removed)

	removed, err = uut.Sweep(utCtx)
	assert.Nil(err)
	assert.Equal(0, removed)

	_, err = uut.Get(utCtx, slugs[5])
	assert.Nil(err)
}

func TestSectionBlobFailures(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	env := newTestEnv(t)
	mockBlobs := mockblobs.NewBlobStore(t)
	uut := store.NewSectionManager(env.dbClient, mockBlobs, env.clock)
	utCtx := context.Background()

	// Case 0: second upload fails; everything written is removed and nothing is recorded
	{
		mockBlobs.On(
			"Put", mock.Anything, mock.Anything, mock.Anything, int64(1),
		).Return(nil).Once()
		mockBlobs.On(
			"Put", mock.Anything, mock.Anything, mock.Anything, int64(2),
		).Return(fmt.Errorf("disk full")).Once()
		mockBlobs.On("Delete", mock.Anything, mock.Anything).Return(nil).Twice()

		_, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays: 1,
			Files:        []store.UploadFile{textUpload("a", "a"), textUpload("b", "bb")},
		})
		assert.Error(err)
	}

	// Case 1: blob delete failures do not block section deletion
	{
		mockBlobs.On(
			"Put", mock.Anything, mock.Anything, mock.Anything, int64(3),
		).Return(nil).Once()
		view, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays: 1, Files: []store.UploadFile{textUpload("c", "ccc")},
		})
		require.Nil(t, err)

		mockBlobs.On(
			"Delete", mock.Anything, view.Files[0].BlobRef,
		).Return(fmt.Errorf("bucket unavailable")).Once()
		assert.Nil(uut.Delete(utCtx, view.Section.Slug))

		_, err = uut.Get(utCtx, view.Section.Slug)
		assert.ErrorIs(err, store.ErrGone)
	}

	// Case 2: missing blob surfaces as gone
	{
		mockBlobs.On(
			"Put", mock.Anything, mock.Anything, mock.Anything, int64(4),
		).Return(nil).Once()
		view, err := uut.Create(utCtx, store.CreateSectionParams{
			LifetimeDays: 1, Files: []store.UploadFile{textUpload("d", "dddd")},
		})
		require.Nil(t, err)

		mockBlobs.On("Open", mock.Anything, view.Files[0].BlobRef).
			Return(nil, fmt.Errorf("lost [%w]", blobs.ErrBlobNotFound)).Once()
		_, _, err = uut.OpenFile(utCtx, view.Section.Slug, view.Files[0].ID)
		assert.ErrorIs(err, store.ErrGone)

		mockBlobs.On("Open", mock.Anything, view.Files[0].BlobRef).
			Return(io.NopCloser(bytes.NewReader([]byte("dddd"))), nil).Once()
		assert.Equal("dddd", readFile(t, uut, view.Section.Slug, view.Files[0].ID))

		// Case 3: a failed upload into the section drops its reserved entry and only its own blob
		mockBlobs.On(
			"Put", mock.Anything, mock.Anything, mock.Anything, int64(5),
		).Return(fmt.Errorf("disk full")).Once()
		mockBlobs.On("Delete", mock.Anything, mock.MatchedBy(func(ref string) bool {
			return ref != view.Files[0].BlobRef
		})).Return(nil).Once()
		_, err = uut.AddFile(utCtx, view.Section.Slug, textUpload("e", "eeeee"))
		assert.Error(err)

		files, err := uut.ListFiles(utCtx, view.Section.Slug)
		assert.Nil(err)
		require.Len(t, files, 1)
		assert.Equal(view.Files[0].ID, files[0].ID)
	}
}

func TestSectionAddFileSameNameConcurrently(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.InfoLevel)

	env := newTestEnv(t)
	uut := store.NewSectionManager(env.dbClient, env.blobs, env.clock)
	utCtx := context.Background()

	view, err := uut.Create(utCtx, store.CreateSectionParams{
		LifetimeDays: 1, KeepOriginalFilenames: true,
		Files: []store.UploadFile{textUpload("notes.txt", "first")},
	})
	require.Nil(t, err)
	slug := view.Section.Slug

	uploaders := 6
	added := make([]models.StoredFile, uploaders)
	errs := make([]error, uploaders)
	wg := sync.WaitGroup{}
	for idx := 0; idx < uploaders; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			added[idx], errs[idx] = uut.AddFile(
				utCtx, slug, textUpload("photo.jpg", fmt.Sprintf("photo-%d", idx)),
			)
		}(idx)
	}
	wg.Wait()

	refs := map[string]bool{}
	keptName := 0
	for idx := 0; idx < uploaders; idx++ {
		require.Nil(t, errs[idx])
		assert.False(refs[added[idx].BlobRef])
		refs[added[idx].BlobRef] = true
		if path.Base(added[idx].BlobRef) == "photo.jpg" {
			keptName++
		}
		assert.Equal(fmt.Sprintf("photo-%d", idx), readFile(t, uut, slug, added[idx].ID))
	}
	assert.Equal(1, keptName)

	files, err := uut.ListFiles(utCtx, slug)
	assert.Nil(err)
	assert.Len(files, uploaders+1)
	assert.Equal("first", readFile(t, uut, slug, view.Files[0].ID))
}

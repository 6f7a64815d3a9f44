package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/alwitt/ephemera/blobs"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxSectionBytes total size limit of the files in one section
const MaxSectionBytes int64 = 150 << 20

// slugAlphabet characters of a section slug
const slugAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// slugAttempts times a fresh slug is drawn before giving up on collisions
const slugAttempts = 5

// nameAttempts times a file name is reserved before giving up on collisions
const nameAttempts = 5

// UploadFile one file to store in a section
type UploadFile struct {
	// Name the uploaded file name
	Name string `validate:"required,max=512"`
	// Size content size in bytes
	Size int64 `validate:"gte=0"`
	// Content the file content, exactly Size bytes
	Content io.Reader `validate:"required"`
}

// CreateSectionParams parameters for creating a section
type CreateSectionParams struct {
	Title                 string `validate:"max=200"`
	LifetimeDays          int    `validate:"gte=1,lte=365"`
	KeepOriginalFilenames bool
	Files                 []UploadFile `validate:"min=1,dive"`
}

// SectionView a section and its files
type SectionView struct {
	Section models.Section
	Files   []models.StoredFile
}

// SectionManager section (album) lifecycle controller
type SectionManager interface {
	/*
		Create define a section holding the uploaded files

			@param ctx context.Context - execution context
			@param params CreateSectionParams - section parameters
			@returns the section and its files. Malformed requests wrap ErrValidation.
	*/
	Create(ctx context.Context, params CreateSectionParams) (SectionView, error)

	/*
		AddFile add one file to a live section

			@param ctx context.Context - execution context
			@param slug string - section slug
			@param file UploadFile - the file
			@returns the stored file entry
	*/
	AddFile(ctx context.Context, slug string, file UploadFile) (models.StoredFile, error)

	// Get fetch a live section; expired sections are deleted and reported as ErrGone
	Get(ctx context.Context, slug string) (models.Section, error)

	// ListFiles list the files of a live section in upload order
	ListFiles(ctx context.Context, slug string) ([]models.StoredFile, error)

	/*
		OpenFile stream one file of a live section

			@param ctx context.Context - execution context
			@param slug string - section slug
			@param fileID string - file ID
			@returns file entry and its content; caller must close the content
	*/
	OpenFile(
		ctx context.Context, slug string, fileID string,
	) (models.StoredFile, io.ReadCloser, error)

	// Delete delete a section with its files and their blobs
	Delete(ctx context.Context, slug string) error

	// IsExpired whether the section has expired now
	IsExpired(section models.Section) bool

	/*
		Sweep delete every expired section

			@param ctx context.Context - execution context
			@returns number of sections removed
	*/
	Sweep(ctx context.Context) (int, error)
}

// sectionManagerImpl implements SectionManager
type sectionManagerImpl struct {
	goutils.Component

	persistence db.Client
	blobStore   blobs.BlobStore
	clock       expiry.Clock
	validator   *validator.Validate
}

/*
NewSectionManager define new section manager

	@param persistence db.Client - persistence layer client
	@param blobStore blobs.BlobStore - file content store
	@param clock expiry.Clock - time source
	@returns manager instance
*/
func NewSectionManager(
	persistence db.Client, blobStore blobs.BlobStore, clock expiry.Clock,
) SectionManager {
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "section-manager"}
	return &sectionManagerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		blobStore:   blobStore,
		clock:       clock,
		validator:   validator.New(),
	}
}

// newSlug draw a random section slug
func newSlug() (string, error) {
	// Bytes at or above the largest multiple of the alphabet size are dropped to avoid bias
	limit := byte(256 - 256%len(slugAlphabet))
	slug := make([]byte, 0, models.SectionSlugLength)
	raw := make([]byte, models.SectionSlugLength*2)
	for len(slug) < models.SectionSlugLength {
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to read random slug bytes [%w]", err)
		}
		for _, b := range raw {
			if b < limit && len(slug) < models.SectionSlugLength {
				slug = append(slug, slugAlphabet[int(b)%len(slugAlphabet)])
			}
		}
	}
	return string(slug), nil
}

// cleanFileName reduce an uploaded name to a safe base name
func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// fileExtension extension of a name without the dot; only alphanumerics are kept
func fileExtension(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if len(ext) == 0 || len(ext) > 16 {
		return ""
	}
	for _, r := range ext {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// randomName random hex name keeping the extension
func randomName(name string) string {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext := fileExtension(name); ext != "" {
		return base + "." + ext
	}
	return base
}

// blobName choose the storage name of an upload, avoiding names already in use
func blobName(upload string, keepOriginal bool, used map[string]bool) string {
	if !keepOriginal {
		return randomName(upload)
	}
	name := cleanFileName(upload)
	if !used[name] {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		candidate := fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)
		if !used[candidate] {
			return candidate
		}
	}
}

func sectionBlobRef(slug, name string) string {
	return fmt.Sprintf("sections/%s/%s", slug, name)
}

func (m *sectionManagerImpl) IsExpired(section models.Section) bool {
	return section.IsExpired(m.clock.Now())
}

// sweepBeforeWrite opportunistic sweep; failures are only logged
func (m *sectionManagerImpl) sweepBeforeWrite(ctx context.Context) {
	if _, err := m.Sweep(ctx); err != nil {
		log.WithError(err).
			WithFields(m.GetLogTagsForContext(ctx)).
			Error("Opportunistic section sweep failed")
	}
}

// storeBlobs write upload content under refs already reserved by their file rows; on
// failure every blob written is removed again
func (m *sectionManagerImpl) storeBlobs(
	ctx context.Context, sectionID string, files []models.StoredFile, uploads []UploadFile,
) error {
	for idx, file := range files {
		if err := m.blobStore.Put(ctx, file.BlobRef, uploads[idx].Content, file.Size); err != nil {
			m.removeBlobs(ctx, files[:idx+1])
			return fmt.Errorf("failed to store file of section %s [%w]", sectionID, err)
		}
	}
	return nil
}

// removeBlobs best effort blob removal
func (m *sectionManagerImpl) removeBlobs(ctx context.Context, files []models.StoredFile) {
	for _, file := range files {
		if err := m.blobStore.Delete(ctx, file.BlobRef); err != nil {
			log.WithError(err).
				WithFields(m.GetLogTagsForContext(ctx)).
				WithField("blob", file.BlobRef).
				Error("Failed to delete section blob")
		}
	}
}

func (m *sectionManagerImpl) Create(
	ctx context.Context, params CreateSectionParams,
) (SectionView, error) {
	m.sweepBeforeWrite(ctx)

	if err := m.validator.Struct(&params); err != nil {
		return SectionView{}, fmt.Errorf("bad section request: %s [%w]", err, ErrValidation)
	}
	var total int64
	for _, upload := range params.Files {
		total += upload.Size
	}
	if total > MaxSectionBytes {
		return SectionView{}, fmt.Errorf(
			"total upload size %d exceeds %d bytes [%w]", total, MaxSectionBytes, ErrValidation,
		)
	}

	now := m.clock.Now()
	section := models.Section{
		ID:                    uuid.NewString(),
		Title:                 strings.TrimSpace(params.Title),
		CreatedAt:             now,
		LifetimeDays:          params.LifetimeDays,
		KeepOriginalFilenames: params.KeepOriginalFilenames,
	}

	var view SectionView
	for attempt := 0; attempt < slugAttempts; attempt++ {
		slug, err := newSlug()
		if err != nil {
			return SectionView{}, err
		}
		section.Slug = slug

		files := make([]models.StoredFile, len(params.Files))
		used := map[string]bool{}
		for idx, upload := range params.Files {
			name := blobName(upload.Name, params.KeepOriginalFilenames, used)
			used[name] = true
			files[idx] = models.StoredFile{
				ID:           uuid.NewString(),
				SectionID:    section.ID,
				OriginalName: upload.Name,
				BlobRef:      sectionBlobRef(slug, name),
				Size:         upload.Size,
				UploadedAt:   now,
			}
		}

		var slugTaken bool
		if dbErr := m.persistence.UseDatabase(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				_, err := dbClient.GetSectionBySlug(dbCtx, slug)
				if err == nil {
					slugTaken = true
					return nil
				}
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			},
		); dbErr != nil {
			return SectionView{}, fmt.Errorf("failed to check section slug [%w]", dbErr)
		}
		if slugTaken {
			continue
		}

		// Rows go first so the blob refs are reserved before any content is written
		if dbErr := m.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				stored, err := dbClient.CreateSection(dbCtx, section)
				if err != nil {
					return err
				}
				view = SectionView{Section: stored, Files: make([]models.StoredFile, 0, len(files))}
				for _, file := range files {
					entry, err := dbClient.AddStoredFile(dbCtx, file)
					if err != nil {
						return err
					}
					view.Files = append(view.Files, entry)
				}
				return nil
			},
		); dbErr != nil {
			if errors.Is(dbErr, gorm.ErrDuplicatedKey) {
				continue
			}
			return SectionView{}, fmt.Errorf("failed to record section [%w]", dbErr)
		}

		if err := m.storeBlobs(ctx, section.ID, files, params.Files); err != nil {
			if dbErr := m.persistence.UseDatabaseInTransaction(
				ctx, func(dbCtx context.Context, dbClient db.Database) error {
					_, err := dbClient.DeleteSection(dbCtx, section.ID)
					return err
				},
			); dbErr != nil {
				log.WithError(dbErr).
					WithFields(m.GetLogTagsForContext(ctx)).
					WithField("slug", slug).
					Error("Failed to drop section after blob failure")
			}
			return SectionView{}, err
		}

		log.WithFields(m.GetLogTagsForContext(ctx)).
			WithField("slug", slug).
			WithField("files", len(files)).
			WithField("bytes", total).
			Info("Created section")
		return view, nil
	}

	return SectionView{}, fmt.Errorf("no free section slug after %d attempts", slugAttempts)
}

func (m *sectionManagerImpl) Get(ctx context.Context, slug string) (models.Section, error) {
	if m.validator.Var(slug, "required,alphanum") != nil {
		return models.Section{}, ErrGone
	}

	var section models.Section
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			section, err = dbClient.GetSectionBySlug(dbCtx, slug)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return models.Section{}, ErrGone
		}
		return models.Section{}, fmt.Errorf("failed to load section '%s' [%w]", slug, dbErr)
	}

	if m.IsExpired(section) {
		if err := m.deleteSection(ctx, section); err != nil {
			return models.Section{}, err
		}
		return models.Section{}, ErrGone
	}
	return section, nil
}

// deleteSection remove the section rows, then the blobs
func (m *sectionManagerImpl) deleteSection(ctx context.Context, section models.Section) error {
	var removed []models.StoredFile
	if dbErr := m.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			removed, err = dbClient.DeleteSection(dbCtx, section.ID)
			return err
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete section '%s' [%w]", section.Slug, dbErr)
	}
	m.removeBlobs(ctx, removed)

	log.WithFields(m.GetLogTagsForContext(ctx)).
		WithField("slug", section.Slug).
		WithField("files", len(removed)).
		Info("Deleted section")
	return nil
}

func (m *sectionManagerImpl) ListFiles(
	ctx context.Context, slug string,
) ([]models.StoredFile, error) {
	section, err := m.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	var files []models.StoredFile
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			files, err = dbClient.ListStoredFiles(dbCtx, section.ID)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list files of section '%s' [%w]", slug, dbErr)
	}
	return files, nil
}

func (m *sectionManagerImpl) AddFile(
	ctx context.Context, slug string, file UploadFile,
) (models.StoredFile, error) {
	m.sweepBeforeWrite(ctx)

	if err := m.validator.Struct(&file); err != nil {
		return models.StoredFile{}, fmt.Errorf("bad file upload: %s [%w]", err, ErrValidation)
	}

	section, err := m.Get(ctx, slug)
	if err != nil {
		return models.StoredFile{}, err
	}
	existing, err := m.ListFiles(ctx, slug)
	if err != nil {
		return models.StoredFile{}, err
	}

	total := file.Size
	used := map[string]bool{}
	for _, entry := range existing {
		total += entry.Size
		used[path.Base(entry.BlobRef)] = true
	}
	if total > MaxSectionBytes {
		return models.StoredFile{}, fmt.Errorf(
			"section size %d would exceed %d bytes [%w]", total, MaxSectionBytes, ErrValidation,
		)
	}

	entry := models.StoredFile{
		ID:           uuid.NewString(),
		SectionID:    section.ID,
		OriginalName: file.Name,
		Size:         file.Size,
		UploadedAt:   m.clock.Now(),
	}

	// The row reserves the blob ref; a concurrent upload of the same name gets a unique one
	reserved := false
	for attempt := 0; attempt < nameAttempts && !reserved; attempt++ {
		entry.BlobRef = sectionBlobRef(slug, blobName(file.Name, section.KeepOriginalFilenames, used))
		dbErr := m.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				recorded, err := dbClient.AddStoredFile(dbCtx, entry)
				if err == nil {
					entry = recorded
				}
				return err
			},
		)
		switch {
		case dbErr == nil:
			reserved = true
		case errors.Is(dbErr, gorm.ErrDuplicatedKey):
			used[path.Base(entry.BlobRef)] = true
		default:
			return models.StoredFile{}, fmt.Errorf(
				"failed to record file of section '%s' [%w]", slug, dbErr,
			)
		}
	}
	if !reserved {
		return models.StoredFile{}, fmt.Errorf(
			"no free file name in section '%s' after %d attempts", slug, nameAttempts,
		)
	}

	if err := m.storeBlobs(
		ctx, section.ID, []models.StoredFile{entry}, []UploadFile{file},
	); err != nil {
		if dbErr := m.persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				return dbClient.DeleteStoredFile(dbCtx, section.ID, entry.ID)
			},
		); dbErr != nil {
			log.WithError(dbErr).
				WithFields(m.GetLogTagsForContext(ctx)).
				WithField("slug", slug).
				Error("Failed to drop file entry after blob failure")
		}
		return models.StoredFile{}, err
	}
	return entry, nil
}

func (m *sectionManagerImpl) OpenFile(
	ctx context.Context, slug string, fileID string,
) (models.StoredFile, io.ReadCloser, error) {
	section, err := m.Get(ctx, slug)
	if err != nil {
		return models.StoredFile{}, nil, err
	}

	var file models.StoredFile
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			file, err = dbClient.GetStoredFile(dbCtx, section.ID, fileID)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return models.StoredFile{}, nil, ErrGone
		}
		return models.StoredFile{}, nil, fmt.Errorf("failed to load section file [%w]", dbErr)
	}

	content, err := m.blobStore.Open(ctx, file.BlobRef)
	if err != nil {
		if errors.Is(err, blobs.ErrBlobNotFound) {
			return models.StoredFile{}, nil, ErrGone
		}
		return models.StoredFile{}, nil, err
	}
	return file, content, nil
}

func (m *sectionManagerImpl) Delete(ctx context.Context, slug string) error {
	var section models.Section
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			section, err = dbClient.GetSectionBySlug(dbCtx, slug)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return ErrGone
		}
		return fmt.Errorf("failed to load section '%s' [%w]", slug, dbErr)
	}
	return m.deleteSection(ctx, section)
}

func (m *sectionManagerImpl) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now()
	// Sections live at least one day, so younger ones are never candidates
	cutoff := now.Add(-expiry.Day + expiry.InstantPrecision)

	var candidates []models.Section
	if dbErr := m.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			candidates, err = dbClient.ListSections(dbCtx, db.SectionQueryFilter{CreatedBefore: &cutoff})
			return err
		},
	); dbErr != nil {
		return 0, fmt.Errorf("failed to list section sweep candidates [%w]", dbErr)
	}

	removed := 0
	for _, section := range candidates {
		if !section.IsExpired(now) {
			continue
		}
		if err := m.deleteSection(ctx, section); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

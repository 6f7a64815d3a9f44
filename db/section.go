package db

import (
	"context"
	"fmt"

	"github.com/alwitt/ephemera/models"
)

// ======================================================================================
// Sections

/*
CreateSection persist a new section

	@param ctx context.Context - execution context
	@param section models.Section - the section
	@returns the stored section
*/
func (d *databaseImpl) CreateSection(
	_ context.Context, section models.Section,
) (models.Section, error) {
	newEntry := SectionDBEntry{Section: section}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Section{}, fmt.Errorf("new section '%s' is not valid [%w]", section.Slug, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Section{}, fmt.Errorf(
			"new section '%s' failed insert [%w]", section.Slug, tmp.Error,
		)
	}

	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeSectionCreated,
		models.SystemEventSectionRelated{SectionID: newEntry.ID, Slug: newEntry.Slug},
	); err != nil {
		return models.Section{}, fmt.Errorf(
			"failed to log new section '%s' audit event [%w]", section.Slug, err,
		)
	}

	return newEntry.Section, nil
}

// GetSectionBySlug fetch a section by its slug
func (d *databaseImpl) GetSectionBySlug(_ context.Context, slug string) (models.Section, error) {
	var entry SectionDBEntry
	if tmp := d.db.Where("slug = ?", slug).First(&entry); tmp.Error != nil {
		return models.Section{}, fmt.Errorf("failed to fetch section '%s' [%w]", slug, tmp.Error)
	}
	return entry.Section, nil
}

/*
ListSections list sections, newest first

	@param ctx context.Context - execution context
	@param filters SectionQueryFilter - entry listing filter
	@return list of sections
*/
func (d *databaseImpl) ListSections(
	_ context.Context, filters SectionQueryFilter,
) ([]models.Section, error) {
	query := d.db.Model(&SectionDBEntry{})

	query = applyContains(query, "slug", filters.SlugContains)
	if filters.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filters.CreatedBefore)
	}
	query = applyPaging(query, filters.CommonListEntryQueryFilter).
		Order("created_at desc").
		Order("id")

	var entries []SectionDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list sections [%w]", tmp.Error)
	}

	result := []models.Section{}
	for _, entry := range entries {
		result = append(result, entry.Section)
	}
	return result, nil
}

/*
DeleteSection delete a section and its file rows

	@param ctx context.Context - execution context
	@param sectionID string - section ID
	@returns the file rows which were removed, for blob cleanup
*/
func (d *databaseImpl) DeleteSection(
	ctx context.Context, sectionID string,
) ([]models.StoredFile, error) {
	files, err := d.ListStoredFiles(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	var entry SectionDBEntry
	if tmp := d.db.Where("id = ?", sectionID).Find(&entry); tmp.Error != nil {
		return nil, fmt.Errorf("failed to fetch section %s [%w]", sectionID, tmp.Error)
	} else if tmp.RowsAffected == 0 {
		// Already gone
		return []models.StoredFile{}, nil
	}

	// File rows go first; the FK cascade is not relied upon
	if tmp := d.db.Where("section_id = ?", sectionID).Delete(&StoredFileDBEntry{}); tmp.Error != nil {
		return nil, fmt.Errorf("failed to delete files of section %s [%w]", sectionID, tmp.Error)
	}
	tmp := d.db.Where("id = ?", sectionID).Delete(&SectionDBEntry{})
	if tmp.Error != nil {
		return nil, fmt.Errorf("failed to delete section %s [%w]", sectionID, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		// Lost a race with another deleter
		return []models.StoredFile{}, nil
	}

	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeSectionDeleted,
		models.SystemEventSectionRelated{
			SectionID: entry.ID, Slug: entry.Slug, FileCount: len(files),
		},
	); err != nil {
		return nil, fmt.Errorf("failed to log delete section audit event [%w]", err)
	}

	return files, nil
}

// ======================================================================================
// Section files

/*
AddStoredFile record a file uploaded into a section

	@param ctx context.Context - execution context
	@param file models.StoredFile - the file entry
	@returns the stored entry
*/
func (d *databaseImpl) AddStoredFile(
	_ context.Context, file models.StoredFile,
) (models.StoredFile, error) {
	newEntry := StoredFileDBEntry{StoredFile: file}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.StoredFile{}, fmt.Errorf(
			"new file '%s' is not valid [%w]", file.OriginalName, err,
		)
	}
	if newEntry.UploadedAt.IsZero() {
		return models.StoredFile{}, fmt.Errorf("new file '%s' has no upload instant", file.OriginalName)
	}

	if tmp := d.db.Omit("Section").Create(&newEntry); tmp.Error != nil {
		return models.StoredFile{}, fmt.Errorf(
			"new file '%s' failed insert [%w]", file.OriginalName, tmp.Error,
		)
	}

	return newEntry.StoredFile, nil
}

// DeleteStoredFile remove one file entry of a section
func (d *databaseImpl) DeleteStoredFile(_ context.Context, sectionID, fileID string) error {
	if tmp := d.db.
		Where("section_id = ? AND id = ?", sectionID, fileID).
		Delete(&StoredFileDBEntry{}); tmp.Error != nil {
		return fmt.Errorf(
			"failed to delete file %s of section %s [%w]", fileID, sectionID, tmp.Error,
		)
	}
	return nil
}

// GetStoredFile fetch one file entry of a section
func (d *databaseImpl) GetStoredFile(
	_ context.Context, sectionID, fileID string,
) (models.StoredFile, error) {
	var entry StoredFileDBEntry
	if tmp := d.db.
		Where("section_id = ? AND id = ?", sectionID, fileID).
		First(&entry); tmp.Error != nil {
		return models.StoredFile{}, fmt.Errorf(
			"failed to fetch file %s of section %s [%w]", fileID, sectionID, tmp.Error,
		)
	}
	return entry.StoredFile, nil
}

// ListStoredFiles list files of a section in upload order
func (d *databaseImpl) ListStoredFiles(
	_ context.Context, sectionID string,
) ([]models.StoredFile, error) {
	var entries []StoredFileDBEntry
	if tmp := d.db.
		Where("section_id = ?", sectionID).
		Order("uploaded_at").
		Order("id").
		Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list files of section %s [%w]", sectionID, tmp.Error)
	}

	result := []models.StoredFile{}
	for _, entry := range entries {
		result = append(result, entry.StoredFile)
	}
	return result, nil
}

package models

import "github.com/alwitt/ephemera/expiry"

// SectionSlugLength length of the shareable section slug
const SectionSlugLength = 8

// Section an album: a TTL bound collection of uploaded files sharing one slug
type Section struct {
	// ID section ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,uuid4"`

	// Slug human shareable random slug
	Slug string `json:"slug" gorm:"column:slug;not null;uniqueIndex;size:32" validate:"required,len=8,alphanum"`

	// Title optional title
	Title string `json:"title" gorm:"column:title;size:200" validate:"max=200"`

	// CreatedAt entry creation instant
	CreatedAt expiry.Instant `json:"created_at" gorm:"column:created_at;not null;index;autoCreateTime:false"`

	// LifetimeDays number of days the section lives
	LifetimeDays int `json:"lifetime_days" gorm:"column:lifetime_days;not null" validate:"required,gte=1,lte=365"`

	// KeepOriginalFilenames store files under their uploaded name instead of a random name
	KeepOriginalFilenames bool `json:"keep_original_filenames" gorm:"column:keep_original_filenames;not null"`
}

// ExpiresAt derived expiry; never persisted
func (s *Section) ExpiresAt() expiry.Instant {
	return expiry.SectionExpiry(s.CreatedAt, s.LifetimeDays)
}

// IsExpired whether the section has expired at now
func (s *Section) IsExpired(now expiry.Instant) bool {
	return expiry.SectionExpired(s.CreatedAt, s.LifetimeDays, now)
}

// StoredFile one file owned by a section
type StoredFile struct {
	// ID file ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required,uuid4"`

	// SectionID the owning section
	SectionID string `json:"section_id" gorm:"column:section_id;not null;index" validate:"required,uuid4"`

	// OriginalName the name the file was uploaded with
	OriginalName string `json:"original_name" gorm:"column:original_name;not null;size:512" validate:"required,max=512"`

	// BlobRef reference of the file content in the blob store
	BlobRef string `json:"blob_ref" gorm:"column:blob_ref;not null;uniqueIndex" validate:"required"`

	// Size content size in bytes
	Size int64 `json:"size" gorm:"column:size;not null" validate:"gte=0"`

	// UploadedAt upload instant
	UploadedAt expiry.Instant `json:"uploaded_at" gorm:"column:uploaded_at;not null;index"`
}

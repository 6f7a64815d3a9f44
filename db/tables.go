package db

import (
	"context"

	"github.com/alwitt/ephemera/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// System audit events

// SystemEventAuditDBEntry system audit event DB entry
type SystemEventAuditDBEntry struct {
	models.SystemEventAudit
}

// TableName hard code table name
func (SystemEventAuditDBEntry) TableName() string {
	return "system_audit_events"
}

// --------------------------------------------------------------------------------------
// System parameters

// SystemParamsDBEntry system parameter DB entry
type SystemParamsDBEntry struct {
	models.SystemParams
}

// TableName hard code table name
func (SystemParamsDBEntry) TableName() string {
	return "system_params"
}

// --------------------------------------------------------------------------------------
// Encryption keys

// EncryptionKeyDBEntry encryption key DB entry
type EncryptionKeyDBEntry struct {
	models.EncryptionKey
}

// TableName hard code table name
func (EncryptionKeyDBEntry) TableName() string {
	return "encryption_keys"
}

// --------------------------------------------------------------------------------------
// Secret notes

// SecretNoteDBEntry secret note DB entry
type SecretNoteDBEntry struct {
	models.SecretNote
	EncKey EncryptionKeyDBEntry `gorm:"constraint:OnDelete:RESTRICT;foreignKey:EncKeyID" validate:"-"`
}

// TableName hard code table name
func (SecretNoteDBEntry) TableName() string {
	return "secret_notes"
}

// --------------------------------------------------------------------------------------
// Sections

// SectionDBEntry section DB entry
type SectionDBEntry struct {
	models.Section
}

// TableName hard code table name
func (SectionDBEntry) TableName() string {
	return "sections"
}

// StoredFileDBEntry section file DB entry
type StoredFileDBEntry struct {
	models.StoredFile
	Section SectionDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:SectionID" validate:"-"`
}

// TableName hard code table name
func (StoredFileDBEntry) TableName() string {
	return "stored_files"
}

// --------------------------------------------------------------------------------------
// Archives

// RetentionEntryDBEntry retention copy DB entry
type RetentionEntryDBEntry struct {
	models.RetentionEntry
	EncKey EncryptionKeyDBEntry `gorm:"constraint:OnDelete:RESTRICT;foreignKey:EncKeyID" validate:"-"`
}

// TableName hard code table name
func (RetentionEntryDBEntry) TableName() string {
	return "retention_entries"
}

// FlaggedNoteDBEntry flagged note DB entry
type FlaggedNoteDBEntry struct {
	models.FlaggedNote
	EncKey EncryptionKeyDBEntry `gorm:"constraint:OnDelete:RESTRICT;foreignKey:EncKeyID" validate:"-"`
}

// TableName hard code table name
func (FlaggedNoteDBEntry) TableName() string {
	return "flagged_notes"
}

// ======================================================================================

// AllTables every table entry type, in dependency order
func AllTables() []interface{} {
	return []interface{}{
		&SystemEventAuditDBEntry{},
		&SystemParamsDBEntry{},
		&EncryptionKeyDBEntry{},
		&SecretNoteDBEntry{},
		&SectionDBEntry{},
		&StoredFileDBEntry{},
		&RetentionEntryDBEntry{},
		&FlaggedNoteDBEntry{},
	}
}

// DefineTables prepare a database with tables through gorm auto-migration
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(AllTables()...)
}

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// SystemEventTypeENUMType system event type ENUM value type
type SystemEventTypeENUMType string

const (
	// SystemEventTypeInitializing system is being initialized
	SystemEventTypeInitializing SystemEventTypeENUMType = "SYSTEM_INITIALIZING"

	// SystemEventTypeInitialized system is initialized
	SystemEventTypeInitialized SystemEventTypeENUMType = "SYSTEM_INITIALIZED"

	// SystemEventTypeNewEncryptionKey new encryption key is being added
	SystemEventTypeNewEncryptionKey SystemEventTypeENUMType = "ADD_NEW_ENCRYPTION_KEY"

	// SystemEventTypeActivateEncryptionKey encryption key is being activated
	SystemEventTypeActivateEncryptionKey SystemEventTypeENUMType = "ACTIVATE_ENCRYPTION_KEY"

	// SystemEventTypeRetireEncryptionKey encryption key is retired from sealing
	SystemEventTypeRetireEncryptionKey SystemEventTypeENUMType = "RETIRE_ENCRYPTION_KEY"

	// SystemEventTypeDeactivateEncryptionKey encryption key is being deactivated
	SystemEventTypeDeactivateEncryptionKey SystemEventTypeENUMType = "DEACTIVATE_ENCRYPTION_KEY"

	// SystemEventTypeDeleteEncryptionKey encryption key is deleted
	SystemEventTypeDeleteEncryptionKey SystemEventTypeENUMType = "DELETE_ENCRYPTION_KEY"

	// SystemEventTypeSectionCreated new section is created
	SystemEventTypeSectionCreated SystemEventTypeENUMType = "SECTION_CREATED"

	// SystemEventTypeSectionDeleted section and its files are deleted
	SystemEventTypeSectionDeleted SystemEventTypeENUMType = "SECTION_DELETED"

	// SystemEventTypeNotesPurged expired notes are purged
	SystemEventTypeNotesPurged SystemEventTypeENUMType = "NOTES_PURGED"

	// SystemEventTypeRetentionPurged expired retention copies are purged
	SystemEventTypeRetentionPurged SystemEventTypeENUMType = "RETENTION_PURGED"

	// SystemEventTypeNoteFlagged a note is archived for moderation
	SystemEventTypeNoteFlagged SystemEventTypeENUMType = "NOTE_FLAGGED"
)

// SystemEventAudit recording of events occurring at the system level
//
// Note IDs are access tokens, so note related events never carry them.
type SystemEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType system event type
	EventType SystemEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,system_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a SystemEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	case SystemEventTypeNewEncryptionKey,
		SystemEventTypeActivateEncryptionKey,
		SystemEventTypeRetireEncryptionKey,
		SystemEventTypeDeactivateEncryptionKey,
		SystemEventTypeDeleteEncryptionKey:
		return parseEventMetadata[SystemEventEncKeyRelated](a, validator)

	case SystemEventTypeSectionCreated, SystemEventTypeSectionDeleted:
		return parseEventMetadata[SystemEventSectionRelated](a, validator)

	case SystemEventTypeNotesPurged, SystemEventTypeRetentionPurged:
		return parseEventMetadata[SystemEventPurgeRelated](a, validator)

	case SystemEventTypeNoteFlagged:
		return parseEventMetadata[SystemEventFlagRelated](a, validator)
	}
	return nil, nil
}

func parseEventMetadata[T any](a SystemEventAudit, validator *validator.Validate) (interface{}, error) {
	var parsed T
	if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
		return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
	}
	return parsed, validator.Struct(&parsed)
}

// SystemEventEncKeyRelated system event metadata related to encryption key
type SystemEventEncKeyRelated struct {
	// KeyID the encryption key
	KeyID string `json:"key_id" validate:"required,uuid_rfc4122"`
}

// SystemEventSectionRelated system event metadata related to a section
type SystemEventSectionRelated struct {
	// SectionID the section ID
	SectionID string `json:"section_id" validate:"required,uuid"`
	// Slug the section slug
	Slug string `json:"slug" validate:"required"`
	// FileCount number of files in the section at the time of the event
	FileCount int `json:"file_count" validate:"gte=0"`
}

// SystemEventPurgeRelated system event metadata of a purge sweep
type SystemEventPurgeRelated struct {
	// Purged number of entries removed
	Purged int64 `json:"purged" validate:"gte=1"`
}

// SystemEventFlagRelated system event metadata of a flagged note
type SystemEventFlagRelated struct {
	// TermCount number of policy terms matched
	TermCount int `json:"term_count" validate:"gte=1"`
}

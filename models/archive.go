package models

import "github.com/alwitt/ephemera/expiry"

// RetentionEntry time boxed audit copy of a read-once note
//
// NoteID is a back reference only; the note itself may already be gone.
type RetentionEntry struct {
	// ID entry ID
	ID string `json:"id" gorm:"column:id;primaryKey" validate:"required"`

	// NoteID the note this copy was taken from
	NoteID string `json:"note_id" gorm:"column:note_id;not null;index" validate:"required,uuid"`

	SealedValue `gorm:"embedded"`

	// CreatedAt entry creation instant
	CreatedAt expiry.Instant `json:"created_at" gorm:"column:created_at;not null;index;autoCreateTime:false"`

	// ExpiresAt retention copies always expire
	ExpiresAt expiry.Instant `json:"expires_at" gorm:"column:expires_at;not null;index"`

	// HadPassword whether the original note was password protected
	HadPassword bool `json:"had_password" gorm:"column:had_password;not null"`
}

// IsExpired whether the retention copy has expired at now
func (e *RetentionEntry) IsExpired(now expiry.Instant) bool {
	return expiry.IsPast(e.ExpiresAt, now)
}

// MaxMatchedTermsLength maximum length of the matched terms description
const MaxMatchedTermsLength = 500

// FlaggedNote permanent moderation archive of a note matched by a content policy
type FlaggedNote struct {
	// NoteID the flagged note
	NoteID string `json:"note_id" gorm:"column:note_id;primaryKey" validate:"required,uuid"`

	SealedValue `gorm:"embedded"`

	// MatchedTerms why the note was flagged
	MatchedTerms string `json:"matched_terms" gorm:"column:matched_terms;not null;size:500" validate:"required,max=500"`

	// CreatedAt entry creation instant
	CreatedAt expiry.Instant `json:"created_at" gorm:"column:created_at;not null;index;autoCreateTime:false"`
}

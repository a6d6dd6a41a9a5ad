package models

import (
	"time"
)

type AttachmentKind string

const (
	AttachmentNone     AttachmentKind = "none"
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentNone, AttachmentImage, AttachmentDocument:
		return true
	}
	return false
}

// Message is immutable once stored, except for Read and the hidden-for overlay.
type Message struct {
	ID             string         `gorm:"size:36;primaryKey" json:"id"`
	SenderID       string         `gorm:"size:64;not null;index:idx_messages_pair,priority:1" json:"senderId"`
	ReceiverID     string         `gorm:"size:64;not null;index:idx_messages_pair,priority:2" json:"receiverId"`
	Body           string         `gorm:"type:text;not null" json:"message"`
	AttachmentRef  string         `gorm:"size:512;not null" json:"fileUrl"`
	AttachmentKind AttachmentKind `gorm:"size:16;not null" json:"fileType"`
	Read           bool           `gorm:"column:is_read;not null;index" json:"read"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"timestamp"`

	HiddenFor []MessageHide `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

// MessageHide records that UserID soft-deleted MessageID from their own view.
type MessageHide struct {
	MessageID string    `gorm:"size:36;primaryKey"`
	UserID    string    `gorm:"size:64;primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

// HiddenForUser reports whether the loaded overlay hides the message for userID.
func (m Message) HiddenForUser(userID string) bool {
	for _, h := range m.HiddenFor {
		if h.UserID == userID {
			return true
		}
	}
	return false
}

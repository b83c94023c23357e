// Package models defines core data structures for documents, conversation turns, and API payloads.
package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Document is the extracted text of an uploaded file. A nil *Document means no document
// has been uploaded; a Document with empty Text is an uploaded but empty file.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Text       string    `json:"-"`
	Length     int       `json:"length"`
	Checksum   string    `json:"checksum,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// NewDocument builds a Document with a fresh ID. Length counts characters, not bytes.
func NewDocument(name, text, checksum string) *Document {
	return &Document{
		ID:         uuid.New().String(),
		Name:       name,
		Text:       text,
		Length:     utf8.RuneCountInString(text),
		Checksum:   checksum,
		UploadedAt: time.Now().UTC(),
	}
}

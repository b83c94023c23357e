package models

import "time"

// Exchange is one completed prompt/response pair as recorded in the archive.
type Exchange struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}

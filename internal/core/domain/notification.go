package domain

import "time"

// Notification is a lightweight "something new arrived" record for UI polling.
type Notification struct {
	ID              string    `json:"id"`
	Channel         Channel   `json:"channel"`
	SourceID        string    `json:"source_id"`
	Subject         string    `json:"subject,omitempty"`
	From            string    `json:"from"`
	Preview         string    `json:"preview,omitempty"`
	HasMedia        bool      `json:"has_media"`
	AttachmentCount int       `json:"attachment_count"`
	Timestamp       time.Time `json:"timestamp"`
	Read            bool      `json:"read"`
}

package store

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when creating a document whose id is taken.
var ErrDuplicate = errors.New("document already exists")

// DocumentSummary is the listing view of a stored document.
type DocumentSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	CurrentVersion int       `json:"currentVersion"`
	Revision       int64     `json:"revision"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PublishedVersion records that a version of a document was published and
// where its content snapshot lives.
type PublishedVersion struct {
	DocumentID  string    `json:"documentId"`
	Version     int       `json:"version"`
	CommitHash  string    `json:"commitHash"`
	PublishedBy string    `json:"publishedBy"`
	PublishedAt time.Time `json:"publishedAt"`
}

package models

import (
	"time"
)

// VideoAsset is the persisted record of an ingested source video.
// Assets are immutable once created; they are only ever added or deleted.
type VideoAsset struct {
	ContentID     string    `json:"content_id" db:"content_id"`
	Filename      string    `json:"filename" db:"filename"`
	StoragePrefix string    `json:"storage_prefix" db:"storage_prefix"`
	SourceKey     string    `json:"source_key" db:"source_key"`
	ContentType   string    `json:"content_type" db:"content_type"`
	Size          int64     `json:"size" db:"size"`
	Category      string    `json:"category" db:"category"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Category constants
const (
	CategoryFilm     = "film"
	CategoryEpisodic = "episodic"
)

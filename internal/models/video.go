package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus values for an archived broadcast.
const (
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// Video is the durable record of an archived live session (source recording → S3).
type Video struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	LiveSessionID   uuid.UUID `json:"live_session_id"`
	Title           string    `json:"title"`
	SourceURL       string    `json:"source_url,omitempty"`
	S3URL           string    `json:"s3_url,omitempty"`
	S3Key           string    `json:"s3_key,omitempty"`
	DurationSeconds int64     `json:"duration_seconds"`
	FileSize        int64     `json:"file_size"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

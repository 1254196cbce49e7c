package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Attempt is the archived record of one resolved restoration request.
type Attempt struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID      string             `bson:"session_id" json:"session_id"`
	Epoch          uint64             `bson:"epoch" json:"epoch"`
	Status         string             `bson:"status" json:"status"` // "succeeded" or "failed"
	Outcome        string             `bson:"outcome" json:"outcome"` // finer label from utils.Outcome
	OriginalName   string             `bson:"original_name,omitempty" json:"original_name,omitempty"`
	MIMEType       string             `bson:"mime_type" json:"mime_type"`
	OriginalBytes  int64              `bson:"original_bytes" json:"original_bytes"`
	RestoredBytes  int64              `bson:"restored_bytes,omitempty" json:"restored_bytes,omitempty"`
	InstructionLen int64              `bson:"instruction_len" json:"instruction_len"`
	DurationMs     int64              `bson:"duration_ms" json:"duration_ms"`
	Error          string             `bson:"error,omitempty" json:"error,omitempty"`
	ResultKey      string             `bson:"result_key,omitempty" json:"result_key,omitempty"` // S3 key of the restored image
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}

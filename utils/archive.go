package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/raushankrgupta/photo-restorer/models"
	"github.com/raushankrgupta/photo-restorer/session"
)

// AttemptRecorder stores attempt records.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *models.Attempt) error
}

// ResultUploader stores restored images.
type ResultUploader interface {
	Upload(ctx context.Context, body io.Reader, objectKey, contentType string) (string, error)
}

// Archiver writes resolved attempts to the configured sinks. Either sink may
// be nil. Sink failures are logged and otherwise ignored.
type Archiver struct {
	Ledger   AttemptRecorder
	Uploader ResultUploader
	Timeout  time.Duration
	Now      func() time.Time
}

// HandleResolution archives r in the background.
func (a *Archiver) HandleResolution(r session.Resolution) {
	if a == nil || r.Stale || (a.Ledger == nil && a.Uploader == nil) {
		return
	}
	go func() {
		if _, err := a.Archive(context.Background(), r); err != nil {
			Logger.Warn("Failed to archive restoration attempt",
				zap.String("session_id", r.SessionID),
				zap.Error(err),
			)
		}
	}()
}

// Archive uploads a successful result, then records the attempt.
func (a *Archiver) Archive(ctx context.Context, r session.Resolution) (*models.Attempt, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := a.attemptFor(r)

	var errs []string
	if a.Uploader != nil && r.Restored != nil && len(r.Restored.Data) > 0 {
		key := ResultKey(r.SessionID, r.Restored.MIMEType)
		if _, err := a.Uploader.Upload(ctx, bytes.NewReader(r.Restored.Data), key, r.Restored.MIMEType); err != nil {
			errs = append(errs, err.Error())
		} else {
			attempt.ResultKey = key
		}
	}

	if a.Ledger != nil {
		if err := a.Ledger.Record(ctx, attempt); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return attempt, fmt.Errorf("archive attempt: %s", strings.Join(errs, "; "))
	}
	return attempt, nil
}

func (a *Archiver) attemptFor(r session.Resolution) *models.Attempt {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	attempt := &models.Attempt{
		ID:             primitive.NewObjectID(),
		SessionID:      r.SessionID,
		Epoch:          r.Epoch,
		Status:         string(r.Status),
		Outcome:        Outcome(r),
		OriginalName:   r.Original.Name,
		MIMEType:       r.Original.MIMEType,
		OriginalBytes:  int64(len(r.Original.Data)),
		InstructionLen: int64(len(r.Instruction)),
		DurationMs:     r.Duration.Milliseconds(),
		CreatedAt:      now().UTC(),
	}
	if r.Err != nil {
		attempt.Error = r.Err.Error()
	}
	if r.Restored != nil {
		attempt.RestoredBytes = int64(len(r.Restored.Data))
	}
	return attempt
}

// ResultKey names the archived object for a restored image.
func ResultKey(sessionID, mimeType string) string {
	return fmt.Sprintf("restored_images/%s/%s%s", sessionID, uuid.NewString(), extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/png", "":
		return ".png"
	default:
		if ext := filepath.Ext(strings.ReplaceAll(mimeType, "/", ".")); ext != "" {
			return ext
		}
		return ".img"
	}
}

package api

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/raushankrgupta/photo-restorer/codec"
	"github.com/raushankrgupta/photo-restorer/models"
	"github.com/raushankrgupta/photo-restorer/session"
)

const (
	LabelRestore      = "Restore Image"
	LabelRestoring    = "Restoring..."
	LabelRestoreAgain = "Restore Again"

	quotaNotice = "Quota exceeded. Please try again later."
)

// BuildView maps a snapshot to what the page renders. With inline set the
// images are embedded as data URIs instead of API paths.
func BuildView(snap session.Snapshot, inline bool) models.SessionView {
	v := models.SessionView{
		ID:          snap.ID,
		Status:      string(snap.Status),
		Progress:    snap.Progress,
		Instruction: snap.Instruction,
		Error:       snap.Error,
		Epoch:       snap.Epoch,
		View:        viewFor(snap.Status),
		CanRestore:  snap.Status == session.StatusSelected || snap.Status == session.StatusSucceeded || snap.Status == session.StatusFailed,

		CanEditInstruction: snap.Status != session.StatusInFlight,
		CanDownload:        snap.Status == session.StatusSucceeded && snap.Restored != nil,
	}

	switch snap.Status {
	case session.StatusInFlight:
		v.RestoreLabel = LabelRestoring
	case session.StatusSucceeded:
		v.RestoreLabel = LabelRestoreAgain
	default:
		v.RestoreLabel = LabelRestore
	}

	if isQuotaMessage(snap.Error) {
		v.Notice = quotaNotice
	}

	if snap.Original != nil {
		v.Original = imageView(snap.Original, "/api/session/original", snap.Epoch, inline)
	}
	if v.CanDownload {
		v.Restored = imageView(snap.Restored, "/api/session/restored", snap.Epoch, inline)
		v.DownloadName = DownloadName(snap.Original)
	}

	if !snap.StartedAt.IsZero() {
		v.StartedAt = timePtr(snap.StartedAt)
	}
	if !snap.FinishedAt.IsZero() {
		v.FinishedAt = timePtr(snap.FinishedAt)
	}
	return v
}

// DownloadName is the file name offered for the restored image.
func DownloadName(original *session.Image) string {
	base := "image"
	if original != nil && original.Name != "" {
		name := filepath.Base(original.Name)
		if stem := strings.TrimSuffix(name, filepath.Ext(name)); stem != "" && stem != "." {
			base = stem
		}
	}
	return base + "_restored.png"
}

func viewFor(status session.Status) string {
	switch status {
	case session.StatusSelected, session.StatusInFlight:
		return "working"
	case session.StatusSucceeded:
		return "compare"
	case session.StatusFailed:
		return "error"
	default:
		return "upload"
	}
}

func imageView(img *session.Image, path string, epoch uint64, inline bool) *models.ImageView {
	iv := &models.ImageView{
		Name:     img.Name,
		MIMEType: img.MIMEType,
		Size:     len(img.Data),
		Width:    img.Width,
		Height:   img.Height,
	}
	if inline {
		iv.URL = codec.DataURI(img.Data, img.MIMEType)
	} else {
		iv.URL = fmt.Sprintf("%s?v=%d", path, epoch)
	}
	return iv
}

func isQuotaMessage(msg string) bool {
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota")
}

func timePtr(t time.Time) *time.Time {
	return &t
}

package models

import "time"

// ImageView describes one side of the comparison.
type ImageView struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	// URL is either an API path or, for inline snapshots, a data URI.
	URL string `json:"url"`
}

// SessionView is the JSON shape pushed to the browser on every change.
type SessionView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Instruction string     `json:"instruction"`
	Error       string     `json:"error,omitempty"`
	Notice      string     `json:"notice,omitempty"`
	Original    *ImageView `json:"original,omitempty"`
	Restored    *ImageView `json:"restored,omitempty"`
	Epoch       uint64     `json:"epoch"`

	// Affordances derived from the status.
	View               string `json:"view"` // "upload", "working", "compare" or "error"
	RestoreLabel       string `json:"restore_label"`
	CanRestore         bool   `json:"can_restore"`
	CanEditInstruction bool   `json:"can_edit_instruction"`
	CanDownload        bool   `json:"can_download"`
	DownloadName       string `json:"download_name,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

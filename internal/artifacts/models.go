package artifacts

import "time"

// Record describes one produced image. It is stored next to the image as
// <image>.json.
type Record struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Image       string    `json:"image"`
	Label       string    `json:"label"`
	Path        string    `json:"path"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Version     string    `json:"version"`
	Build       string    `json:"build"`
	Server      string    `json:"server,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

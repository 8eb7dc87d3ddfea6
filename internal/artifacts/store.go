// Package artifacts keeps metadata records alongside produced disk images.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const recordExt = ".json"

// LocalStore writes records as JSON sidecar files next to the artifacts they describe.
type LocalStore struct{}

// Record completes rec from the artifact on disk and writes its sidecar file.
func (LocalStore) Record(rec Record) (Record, error) {
	if rec.Path == "" {
		return Record{}, errors.New("artifact path is required")
	}
	info, err := os.Stat(rec.Path)
	if err != nil {
		return Record{}, err
	}
	if !info.Mode().IsRegular() {
		return Record{}, fmt.Errorf("artifact %s is not a regular file", rec.Path)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.SizeBytes = info.Size()
	rec.ContentType = detectContentType(rec.Path)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = info.ModTime()
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, err
	}
	if err := os.WriteFile(sidecarPath(rec.Path), payload, 0o644); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns the records found in dir, oldest first. Records whose artifact no longer
// exists are skipped.
func (LocalStore) List(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		rec, err := load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if _, err := os.Stat(rec.Path); err != nil {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// load reads a sidecar file. Other JSON files yield nil.
func load(path string) (*Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, nil
	}
	if rec.ID == "" || rec.Path == "" {
		return nil, nil
	}
	return &rec, nil
}

func sidecarPath(path string) string {
	return path + recordExt
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dmg", ".sparseimage", ".sparsebundle":
		return "application/x-apple-diskimage"
	case ".cdr", ".iso":
		return "application/x-iso9660-image"
	default:
		return "application/octet-stream"
	}
}

// Package gen provides utility functions for generating values.
package gen

import (
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// JobID returns a time ordered UUIDv7, falling back to a random UUIDv4.
func JobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// FileName builds a filesystem friendly base name from the given parts.
func FileName(parts ...string) string {
	name := slug.Make(strings.Join(parts, " "))
	if name == "" {
		return "video"
	}

	return name
}

// TempDirName returns the per-job temp directory name.
func TempDirName(prefix, id string) string {
	return prefix + id
}

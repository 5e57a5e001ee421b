package util

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Common timeout durations
const (
	DefaultFetchTimeout = 5 * time.Second
	ReadTimeout         = 500 * time.Millisecond
	StopWait            = time.Second
)

var userIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidateUserID checks that a user id is non-empty, at most 32 characters,
// and contains only letters, digits, underscore and hyphen.
func ValidateUserID(id string) error {
	if !userIDRe.MatchString(id) {
		return errors.New("user id must match [A-Za-z0-9_-]{1,32}")
	}
	return nil
}

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

package db

import "time"

// Entry is a row of the kv_entries table.
type Entry struct {
	Key       string
	Value     string
	ExpiresAt *time.Time // nullable, nil means no expiry
}

package models

import "time"

// RosterExport describes a rendered roster file.
type RosterExport struct {
	Owner     string    `json:"owner"`
	OwnerID   int64     `json:"owner_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

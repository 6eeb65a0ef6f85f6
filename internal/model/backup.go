package model

import "time"

const BackupVersion = "1.0"

// Backup is the export/import document for one owner's data.
type Backup struct {
	Groceries  []Grocery `json:"groceries"`
	Tasks      []Task    `json:"tasks"`
	ExportDate time.Time `json:"exportDate"`
	Version    string    `json:"version"`
}

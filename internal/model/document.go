package model

import (
	"encoding/json"
	"time"
)

const (
	DocumentTypeJD        = "jd"
	DocumentTypeCV        = "cv"
	DocumentTypeQuestions = "questions"
)

// Document is an immutable unit of extracted text. Content has already been
// sanitized: no null bytes, no control characters other than newline and tab.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"size:16;not null;index" json:"type"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Content   string    `gorm:"type:longtext;not null" json:"content"`
	Metadata  string    `gorm:"type:text" json:"-"` // JSON object
	CreatedAt time.Time `json:"created_at"`
}

// MetadataMap returns the parsed metadata map; empty on parse error.
func (d *Document) MetadataMap() map[string]string {
	if d.Metadata == "" {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal([]byte(d.Metadata), &m)
	return m
}

// SetMetadata stores the metadata map as JSON.
func (d *Document) SetMetadata(m map[string]string) {
	if len(m) == 0 {
		d.Metadata = ""
		return
	}
	b, _ := json.Marshal(m)
	d.Metadata = string(b)
}

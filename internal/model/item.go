package model

import (
	"strings"
	"time"
)

// ContentItem is a single piece of content fetched for a tenant: a title and
// short summary tagged with its source and publication time. Items are
// read-only inputs to detection and are never mutated by the engine.
type ContentItem struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Source    string    `json:"source"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Text returns the analyzable text of the item (title plus summary).
func (it ContentItem) Text() string {
	if it.Summary == "" {
		return it.Title
	}
	return it.Title + " " + it.Summary
}

// Validate checks the fields detection depends on.
func (it ContentItem) Validate() error {
	switch {
	case strings.TrimSpace(it.ID) == "":
		return errMissing("id")
	case strings.TrimSpace(it.TenantID) == "":
		return errMissing("tenant_id")
	case strings.TrimSpace(it.Title) == "":
		return errMissing("title")
	case strings.TrimSpace(it.Source) == "":
		return errMissing("source")
	case it.CreatedAt.IsZero():
		return errMissing("created_at")
	}
	return nil
}

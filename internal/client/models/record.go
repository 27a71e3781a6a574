// Package models defines the client-side data types shared by repositories,
// services and the sync/archive engines.
package models

import (
	"sort"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/cryptox"
)

// MediaType classifies the content a record was captured from.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaWeb      MediaType = "web"
	MediaImage    MediaType = "image"
	MediaPDF      MediaType = "pdf"
	MediaMarkdown MediaType = "markdown"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
)

// MediaTypes lists every accepted media type.
var MediaTypes = []MediaType{MediaText, MediaWeb, MediaImage, MediaPDF, MediaMarkdown, MediaVideo, MediaAudio}

// Valid reports whether m is one of MediaTypes.
func (m MediaType) Valid() bool {
	for _, x := range MediaTypes {
		if x == m {
			return true
		}
	}
	return false
}

// Record is a single content item. Timestamps are Unix milliseconds.
// Optional text fields use the empty string for "absent".
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ContentText string    `json:"contentText"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	MediaType   MediaType `json:"mediaType"`
	Tags        []string  `json:"tags"`
	Summary     string    `json:"summary,omitempty"`
	BlobKey     string    `json:"blobKey,omitempty"`
	IsDeleted   bool      `json:"isDeleted"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"contentHash"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return c
}

// SameState reports whether two snapshots carry the same visible state.
// Versions are ignored because a replaced record is re-versioned locally.
func (r Record) SameState(o Record) bool {
	if r.ID != o.ID || r.UpdatedAt != o.UpdatedAt || r.ContentHash != o.ContentHash ||
		r.IsDeleted != o.IsDeleted || r.Title != o.Title || r.Summary != o.Summary ||
		r.SourceURL != o.SourceURL || r.MediaType != o.MediaType || r.BlobKey != o.BlobKey {
		return false
	}
	if len(r.Tags) != len(o.Tags) {
		return false
	}
	for i := range r.Tags {
		if r.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// ContentHash returns the SHA-256 hex digest of a record's content text.
func ContentHash(text string) string {
	return cryptox.SHA256Hex([]byte(text))
}

// NormalizeTags trims, lowercases, de-duplicates and sorts tags.
// Empty tags are dropped. The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasTag reports whether the (normalized) tag set contains tag.
func (r Record) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	i := sort.SearchStrings(r.Tags, tag)
	return i < len(r.Tags) && r.Tags[i] == tag
}

// RecordFilter narrows List and search results. Zero values mean "no filter".
type RecordFilter struct {
	MediaType      MediaType
	Tag            string
	UpdatedFrom    int64
	UpdatedTo      int64
	IncludeDeleted bool
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is offset pagination.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the limit into [1, MaxPageLimit] with DefaultPageLimit for zero.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

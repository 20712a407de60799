// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Status describes where an image sits in the intake/commit lifecycle. A
// named string type keeps the values type safe while staying readable in JSON.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCompressing Status = "compressing"
	StatusUploading   Status = "uploading"
	StatusCommitted   Status = "committed"
	StatusError       Status = "error"
)

// transitions lists every legal edge. compressing -> pending marks the end of
// capture-time compression; error -> pending is the user-initiated retry.
var transitions = map[Status][]Status{
	StatusPending:     {StatusCompressing, StatusUploading},
	StatusCompressing: {StatusPending, StatusError},
	StatusUploading:   {StatusCommitted, StatusError},
	StatusError:       {StatusPending},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCommitted
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompressing, StatusUploading, StatusCommitted, StatusError:
		return true
	}
	return false
}

// Source records where an image was captured.
type Source string

const (
	SourceDesktop Source = "desktop"
	SourceMobile  Source = "mobile"
)

// Image is one captured photograph awaiting or having completed commit.
// File holds compressed JPEG bytes for desktop captures; PreviewURL points at
// a relayed mobile capture. Commit prefers File whenever it is present.
type Image struct {
	ID            string         `json:"id"`
	FileName      string         `json:"fileName"`
	ContentType   string         `json:"contentType"`
	File          []byte         `json:"-"`
	PreviewURL    string         `json:"previewUrl,omitempty"`
	Thumbnail     string         `json:"thumbnail,omitempty"`
	Size          int64          `json:"size"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	Source        Source         `json:"source"`
	Metadata      Metadata       `json:"metadata"`
	Status        Status         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Result        *CommitResult  `json:"result,omitempty"`
	CommitOptions *CommitOptions `json:"commitOptions,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// HasData reports whether the image carries bytes or a fetchable URL.
func (i *Image) HasData() bool {
	return len(i.File) > 0 || i.PreviewURL != ""
}

// MissingRequired reports whether body site or laterality is absent.
func (i *Image) MissingRequired() bool {
	return i.Metadata.BodySite.IsZero() || i.Metadata.Laterality.IsZero()
}

// Clone returns a deep copy so callers never share mutable state with the
// store that handed the image out.
func (i Image) Clone() Image {
	out := i
	if i.File != nil {
		out.File = append([]byte(nil), i.File...)
	}
	out.Metadata = i.Metadata.Clone()
	if i.Result != nil {
		r := *i.Result
		out.Result = &r
	}
	if i.CommitOptions != nil {
		o := i.CommitOptions.Clone()
		out.CommitOptions = &o
	}
	return out
}

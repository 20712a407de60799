// Package clinical talks to the external clinical record system: capability
// discovery, mobile session initiation, relayed image listing, and the
// batched attachment commit.
package clinical

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

// Client is the full external surface the pipeline consumes. HTTPClient
// talks to a real deployment; Fake is a deterministic in-memory stand-in.
type Client interface {
	Capabilities(ctx context.Context) (*model.Capabilities, error)
	InitiateMobileSession(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	MobileImages(ctx context.Context, encounterID string, includeData bool) ([]model.MobileImage, error)
	Commit(ctx context.Context, req CommitRequest) (*CommitResponse, error)
}

// InitiateRequest asks for a new QR pairing token.
type InitiateRequest struct {
	EncounterID string `json:"encounterId" validate:"required"`
	PatientID   string `json:"patientId" validate:"required"`
	FacilityID  string `json:"facilityId" validate:"required"`
}

// InitiateResponse describes the issued pairing.
type InitiateResponse struct {
	Token           string `json:"token"`
	MobileUploadURL string `json:"mobileUploadUrl"`
	QRRenderable    string `json:"qrRenderable,omitempty"`
	TTLSeconds      int    `json:"ttlSeconds"`
}

// CommitRequest carries every file of one batch.
type CommitRequest struct {
	EncounterID string       `json:"encounterId"`
	Files       []CommitFile `json:"files"`
}

// CommitFile is one attachment. Data is sent as a multipart part named after
// FileID; SourceURL is used instead when the image only exists remotely.
type CommitFile struct {
	FileID         string              `json:"fileId"`
	FileName       string              `json:"fileName"`
	ContentType    string              `json:"contentType"`
	Data           []byte              `json:"-"`
	SourceURL      string              `json:"sourceUrl,omitempty"`
	Meta           FileMeta            `json:"meta"`
	AlsoInbox      *model.InboxRouting `json:"alsoInbox,omitempty"`
	AlsoTask       *model.TaskRouting  `json:"alsoTask,omitempty"`
	IdempotencyKey string              `json:"idempotencyKey"`
}

// FileMeta is the tag payload for one file.
type FileMeta struct {
	Laterality *model.CodedConcept `json:"laterality,omitempty"`
	BodySite   *model.CodedConcept `json:"bodySite,omitempty"`
	View       *model.CodedConcept `json:"view,omitempty"`
	Type       *model.CodedConcept `json:"type,omitempty"`
	Label      string              `json:"label,omitempty"`
	Edits      *model.Edits        `json:"edits,omitempty"`
}

// MetaFrom extracts the wire metadata from an image's tags.
func MetaFrom(m model.Metadata) FileMeta {
	m = m.Clone()
	return FileMeta{
		Laterality: m.Laterality,
		BodySite:   m.BodySite,
		View:       m.View,
		Type:       m.Type,
		Label:      m.Label,
		Edits:      m.Edits,
	}
}

// FileStatus is the per-file outcome in a commit response.
type FileStatus string

const (
	FileCommitted FileStatus = "committed"
	FileError     FileStatus = "error"
)

// CommitResponse holds one outcome per file.
type CommitResponse struct {
	Files []FileOutcome `json:"files"`
}

// FileOutcome is the external system's verdict on one file.
type FileOutcome struct {
	FileID              string     `json:"fileId"`
	Status              FileStatus `json:"status"`
	DocumentReferenceID string     `json:"documentReferenceId,omitempty"`
	MediaID             string     `json:"mediaId,omitempty"`
	InboxMessageID      string     `json:"inboxMessageId,omitempty"`
	TaskID              string     `json:"taskId,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Result converts a committed outcome into the stored result.
func (o FileOutcome) Result() *model.CommitResult {
	return &model.CommitResult{
		DocumentReferenceID: o.DocumentReferenceID,
		MediaID:             o.MediaID,
		InboxMessageID:      o.InboxMessageID,
		TaskID:              o.TaskID,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*Fake)(nil)
)

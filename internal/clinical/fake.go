package clinical

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

const snomed = "http://snomed.info/sct"

// DefaultCapabilities is the snapshot the fake serves when no fixture is
// given.
func DefaultCapabilities() model.Capabilities {
	return model.Capabilities{
		Features: model.Features{ImageAttachment: true, MobileHandoff: true, InboxRouting: true, TaskRouting: true},
		Lateralities: []model.CodedConcept{
			{System: snomed, Code: "7771000", Display: "Left"},
			{System: snomed, Code: "24028007", Display: "Right"},
			{System: snomed, Code: "51440002", Display: "Bilateral"},
		},
		BodySites: []model.CodedConcept{
			{System: snomed, Code: "14975008", Display: "Forearm"},
			{System: snomed, Code: "89545001", Display: "Face"},
			{System: snomed, Code: "22943007", Display: "Trunk"},
			{System: snomed, Code: "56459004", Display: "Foot"},
		},
		Views: []model.CodedConcept{
			{System: "urn:chartsnap:view", Code: "overview", Display: "Overview"},
			{System: "urn:chartsnap:view", Code: "close-up", Display: "Close-up"},
			{System: "urn:chartsnap:view", Code: "dermoscopy", Display: "Dermoscopy"},
		},
		Types: []model.CodedConcept{
			{System: "urn:chartsnap:type", Code: "lesion", Display: "Lesion"},
			{System: "urn:chartsnap:type", Code: "wound", Display: "Wound"},
			{System: "urn:chartsnap:type", Code: "rash", Display: "Rash"},
		},
		Limits: model.Limits{
			MaxFileBytes:      5 << 20,
			MaxFilesPerBatch:  10,
			MaxEncounterBytes: 100 << 20,
			AcceptedTypes:     []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "image/tiff"},
		},
		InboxRecipients: []model.Recipient{{ID: "dr-lee", Name: "Dr Lee"}, {ID: "nurse-pool", Name: "Nursing pool"}},
		TaskAssignees:   []model.Recipient{{ID: "dr-lee", Name: "Dr Lee"}, {ID: "front-desk", Name: "Front desk"}},
	}
}

// LoadCapabilities reads a YAML capability fixture.
func LoadCapabilities(path string) (model.Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Capabilities{}, fmt.Errorf("read capability fixture: %w", err)
	}
	var caps model.Capabilities
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return model.Capabilities{}, fmt.Errorf("parse capability fixture: %w", err)
	}
	return caps, nil
}

// Fake is a deterministic in-memory Client. Commits are recorded by
// idempotency key: replaying a key returns the original outcome without
// creating a new record. Rejections are never recorded, so a retry after the
// rejection is cleared succeeds.
type Fake struct {
	mu          sync.Mutex
	caps        model.Capabilities
	records     map[string]FileOutcome
	rejects     map[string]string
	failNext    []error
	before      func(context.Context, CommitRequest) error
	mobile      map[string][]model.MobileImage
	initiations []InitiateRequest
	commits     []CommitRequest
	mobileCalls int
	seq         int
	ttlSeconds  int
}

// NewFake constructs a Fake serving caps.
func NewFake(caps model.Capabilities) *Fake {
	return &Fake{
		caps:       caps,
		records:    make(map[string]FileOutcome),
		rejects:    make(map[string]string),
		mobile:     make(map[string][]model.MobileImage),
		ttlSeconds: 600,
	}
}

// Reject makes the fake fail fileID with msg until ClearReject.
func (f *Fake) Reject(fileID, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[fileID] = msg
}

// ClearReject undoes Reject.
func (f *Fake) ClearReject(fileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rejects, fileID)
}

// FailNextCommit makes the next Commit call fail as a transport error.
func (f *Fake) FailNextCommit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = append(f.failNext, err)
}

// BeforeCommit installs a hook run at the start of each Commit, outside the
// lock. Tests use it to block or interleave.
func (f *Fake) BeforeCommit(fn func(context.Context, CommitRequest) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

// SetTTL changes the TTL handed out by InitiateMobileSession.
func (f *Fake) SetTTL(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttlSeconds = seconds
}

// AddMobileImage makes img visible in MobileImages for its encounter.
func (f *Fake) AddMobileImage(img model.MobileImage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mobile[img.EncounterID] = append(f.mobile[img.EncounterID], img)
}

// Records is the number of distinct external records created.
func (f *Fake) Records() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// Commits returns every commit request received.
func (f *Fake) Commits() []CommitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CommitRequest(nil), f.commits...)
}

// Initiations returns every initiate request received.
func (f *Fake) Initiations() []InitiateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InitiateRequest(nil), f.initiations...)
}

// MobileCalls counts MobileImages calls.
func (f *Fake) MobileCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mobileCalls
}

func (f *Fake) Capabilities(ctx context.Context) (*model.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	caps := f.caps
	return &caps, nil
}

func (f *Fake) InitiateMobileSession(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiations = append(f.initiations, req)
	token := uuid.NewString()
	return &InitiateResponse{
		Token:           token,
		MobileUploadURL: "https://relay.invalid/m/" + token,
		TTLSeconds:      f.ttlSeconds,
	}, nil
}

func (f *Fake) MobileImages(ctx context.Context, encounterID string, includeData bool) ([]model.MobileImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mobileCalls++
	src := f.mobile[encounterID]
	out := make([]model.MobileImage, 0, len(src))
	for _, img := range src {
		if !includeData {
			img.Data = nil
		}
		out = append(out, img)
	}
	return out, nil
}

func (f *Fake) Commit(ctx context.Context, req CommitRequest) (*CommitResponse, error) {
	f.mu.Lock()
	before := f.before
	f.mu.Unlock()
	if before != nil {
		if err := before(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, req)
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		return nil, err
	}
	resp := &CommitResponse{Files: make([]FileOutcome, 0, len(req.Files))}
	for _, file := range req.Files {
		if prev, ok := f.records[file.IdempotencyKey]; ok {
			resp.Files = append(resp.Files, prev)
			continue
		}
		if msg, ok := f.rejects[file.FileID]; ok {
			resp.Files = append(resp.Files, FileOutcome{FileID: file.FileID, Status: FileError, Error: msg})
			continue
		}
		if len(file.Data) == 0 && file.SourceURL == "" {
			resp.Files = append(resp.Files, FileOutcome{FileID: file.FileID, Status: FileError, Error: "no image content"})
			continue
		}
		f.seq++
		out := FileOutcome{
			FileID:              file.FileID,
			Status:              FileCommitted,
			DocumentReferenceID: fmt.Sprintf("DocumentReference/%d", f.seq),
			MediaID:             fmt.Sprintf("Media/%d", f.seq),
		}
		if file.AlsoInbox != nil {
			out.InboxMessageID = fmt.Sprintf("Communication/%d", f.seq)
		}
		if file.AlsoTask != nil {
			out.TaskID = fmt.Sprintf("Task/%d", f.seq)
		}
		f.records[file.IdempotencyKey] = out
		resp.Files = append(resp.Files, out)
	}
	return resp, nil
}

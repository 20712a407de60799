package model

import "strings"

// Capabilities is the process-wide snapshot of what the external clinical
// record system currently supports. It is fetched once per widget session
// and never mutated by the client.
type Capabilities struct {
	Features        Features       `json:"features" yaml:"features"`
	Lateralities    []CodedConcept `json:"lateralities" yaml:"lateralities"`
	BodySites       []CodedConcept `json:"bodySites" yaml:"body_sites"`
	Views           []CodedConcept `json:"views" yaml:"views"`
	Types           []CodedConcept `json:"types" yaml:"types"`
	Limits          Limits         `json:"limits" yaml:"limits"`
	InboxRecipients []Recipient    `json:"inboxRecipients" yaml:"inbox_recipients"`
	TaskAssignees   []Recipient    `json:"taskAssignees" yaml:"task_assignees"`
}

// Features toggles the optional parts of the pipeline.
type Features struct {
	ImageAttachment bool `json:"imageAttachment" yaml:"image_attachment"`
	MobileHandoff   bool `json:"mobileHandoff" yaml:"mobile_handoff"`
	InboxRouting    bool `json:"inboxRouting" yaml:"inbox_routing"`
	TaskRouting     bool `json:"taskRouting" yaml:"task_routing"`
}

// Limits are the numeric bounds enforced before anything leaves the client.
type Limits struct {
	MaxFileBytes      int64    `json:"maxFileBytes" yaml:"max_file_bytes"`
	MaxFilesPerBatch  int      `json:"maxFilesPerBatch" yaml:"max_files_per_batch"`
	MaxEncounterBytes int64    `json:"maxEncounterBytes" yaml:"max_encounter_bytes"`
	AcceptedTypes     []string `json:"acceptedTypes" yaml:"accepted_types"`
}

// Recipient is a valid inbox recipient or task assignee.
type Recipient struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Accepts reports whether contentType is one of the accepted MIME types.
// Parameters such as "; charset=" are ignored.
func (c *Capabilities) Accepts(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range c.Limits.AcceptedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// Options returns the pick-list for a tag field.
func (c *Capabilities) Options(f Field) []CodedConcept {
	switch f {
	case FieldLaterality:
		return c.Lateralities
	case FieldBodySite:
		return c.BodySites
	case FieldView:
		return c.Views
	case FieldType:
		return c.Types
	}
	return nil
}

// Offers reports whether concept is on the pick-list for f. An empty
// pick-list accepts any value.
func (c *Capabilities) Offers(f Field, concept *CodedConcept) bool {
	opts := c.Options(f)
	if len(opts) == 0 {
		return true
	}
	for i := range opts {
		if opts[i].Same(concept) {
			return true
		}
	}
	return false
}

// HasInboxRecipient reports whether id is a known inbox recipient.
func (c *Capabilities) HasInboxRecipient(id string) bool {
	return hasRecipient(c.InboxRecipients, id)
}

// HasTaskAssignee reports whether id is a known task assignee.
func (c *Capabilities) HasTaskAssignee(id string) bool {
	return hasRecipient(c.TaskAssignees, id)
}

func hasRecipient(list []Recipient, id string) bool {
	for _, r := range list {
		if r.ID == id {
			return true
		}
	}
	return false
}

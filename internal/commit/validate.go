package commit

import (
	"errors"
	"fmt"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

var (
	ErrAttachmentsDisabled = errors.New("image attachments are disabled")
	ErrStillCompressing    = errors.New("images are still compressing")
	ErrNoImageData         = errors.New("images have no content")
	ErrMissingRequired     = errors.New("images are missing body site or laterality")
	ErrInboxDisabled       = errors.New("inbox routing is disabled")
	ErrTaskDisabled        = errors.New("task routing is disabled")
	ErrUnknownRecipient    = errors.New("unknown inbox recipient")
	ErrUnknownAssignee     = errors.New("unknown task assignee")
	ErrEncounterFull       = errors.New("encounter attachment quota exceeded")
)

// ValidationError rejects a commit before any image changes status.
type ValidationError struct {
	Err error
	IDs []string
}

func (e *ValidationError) Error() string {
	if len(e.IDs) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, joinIDs(e.IDs))
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (c *Committer) validate(caps model.Capabilities, imgs []model.Image) error {
	if !caps.Features.ImageAttachment {
		return &ValidationError{Err: ErrAttachmentsDisabled}
	}
	checks := []struct {
		err error
		bad func(*model.Image) bool
	}{
		{ErrStillCompressing, func(img *model.Image) bool { return img.Status == model.StatusCompressing }},
		{ErrNoImageData, func(img *model.Image) bool { return !img.HasData() }},
		{ErrMissingRequired, func(img *model.Image) bool { return img.MissingRequired() }},
		{ErrInboxDisabled, func(img *model.Image) bool {
			return !caps.Features.InboxRouting && img.CommitOptions != nil && img.CommitOptions.Inbox != nil
		}},
		{ErrTaskDisabled, func(img *model.Image) bool {
			return !caps.Features.TaskRouting && img.CommitOptions != nil && img.CommitOptions.Task != nil
		}},
		{ErrUnknownRecipient, func(img *model.Image) bool {
			return img.CommitOptions != nil && img.CommitOptions.Inbox != nil && !caps.HasInboxRecipient(img.CommitOptions.Inbox.RecipientID)
		}},
		{ErrUnknownAssignee, func(img *model.Image) bool {
			return img.CommitOptions != nil && img.CommitOptions.Task != nil && !caps.HasTaskAssignee(img.CommitOptions.Task.AssigneeID)
		}},
	}
	for _, check := range checks {
		var bad []string
		for i := range imgs {
			if check.bad(&imgs[i]) {
				bad = append(bad, imgs[i].ID)
			}
		}
		if len(bad) > 0 {
			return &ValidationError{Err: check.err, IDs: bad}
		}
	}
	if max := caps.Limits.MaxEncounterBytes; max > 0 {
		total := c.store.CommittedBytes()
		for _, img := range imgs {
			total += img.Size
		}
		if total > max {
			return &ValidationError{Err: fmt.Errorf("%w: %d > %d bytes", ErrEncounterFull, total, max)}
		}
	}
	return nil
}

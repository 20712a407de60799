package model

// CommitOptions are the per-image side effects requested at commit time.
type CommitOptions struct {
	Inbox *InboxRouting `json:"inbox,omitempty"`
	Task  *TaskRouting  `json:"task,omitempty"`
}

// InboxRouting sends the committed image to a recipient's inbox.
type InboxRouting struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Note        string `json:"note,omitempty"`
}

// TaskRouting creates a follow-up task. DueDate is a calendar date
// (YYYY-MM-DD).
type TaskRouting struct {
	AssigneeID string `json:"assigneeId" validate:"required"`
	DueDate    string `json:"dueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty"`
}

// Clone deep-copies the options.
func (o CommitOptions) Clone() CommitOptions {
	out := CommitOptions{}
	if o.Inbox != nil {
		in := *o.Inbox
		out.Inbox = &in
	}
	if o.Task != nil {
		t := *o.Task
		out.Task = &t
	}
	return out
}

// CommitResult holds the identifiers the external system created.
type CommitResult struct {
	DocumentReferenceID string `json:"documentReferenceId"`
	MediaID             string `json:"mediaId,omitempty"`
	InboxMessageID      string `json:"inboxMessageId,omitempty"`
	TaskID              string `json:"taskId,omitempty"`
}

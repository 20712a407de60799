package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// NormalizeImageTask is scheduled each time a phone uploads an image.
	NormalizeImageTask = "mobile:normalize"
)

// NormalizePayload tells the worker which raw object to compress and which
// encounter to notify afterwards.
type NormalizePayload struct {
	ImageID     string `json:"image_id"`
	EncounterID string `json:"encounter_id"`
	RawKey      string `json:"raw_key"`
	FileName    string `json:"file_name"`
}

// Client enqueues normalize jobs.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// NewNormalizeTask builds the task for payload.
func NewNormalizeTask(payload NormalizePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(NormalizeImageTask, data, asynq.MaxRetry(5)), nil
}

// ParseNormalize decodes a task payload.
func ParseNormalize(task *asynq.Task) (NormalizePayload, error) {
	var payload NormalizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.ImageID == "" || payload.RawKey == "" || payload.EncounterID == "" {
		return payload, fmt.Errorf("decode payload: missing fields")
	}
	return payload, nil
}

// EnqueueNormalize enqueues a normalize job.
func (c *Client) EnqueueNormalize(ctx context.Context, payload NormalizePayload) error {
	task, err := NewNormalizeTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue normalize task: %w", err)
	}
	return nil
}

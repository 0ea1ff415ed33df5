package models

import (
	"time"
)

// WebhookEvent is the payload posted to webhook endpoints
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event names
const (
	WebhookEventJobDone   = "job.done"
	WebhookEventJobFailed = "job.failed"
)

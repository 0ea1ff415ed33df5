package models

import (
	"time"
)

// JobState is the lifecycle state of a transcode job
type JobState string

// JobState constants
const (
	JobStateQueued               JobState = "queued"
	JobStateReceived             JobState = "received"
	JobStateDownloading          JobState = "downloading"
	JobStateEncoding             JobState = "encoding"
	JobStatePublishing           JobState = "publishing"
	JobStateRegeneratingManifest JobState = "regenerating_manifest"
	JobStateDone                 JobState = "done"
	JobStateRetrying             JobState = "retrying"
	JobStateFailed               JobState = "failed"
)

// Job tracks one transcode request through the worker pipeline
type Job struct {
	ID             string    `json:"id" db:"id"`
	ContentID      string    `json:"content_id" db:"content_id"`
	State          JobState  `json:"state" db:"state"`
	Qualities      []string  `json:"qualities" db:"qualities"`
	CurrentQuality string    `json:"current_quality,omitempty" db:"current_quality"`
	Attempts       int       `json:"attempts" db:"attempts"`
	LastError      string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TranscodeMessage is the queue payload. It is never persisted; the queue
// delivers it at least once.
type TranscodeMessage struct {
	JobID             string   `json:"job_id"`
	ContentID         string   `json:"content_id"`
	SourceKey         string   `json:"source_key"`
	DestinationPrefix string   `json:"destination_prefix"`
	Qualities         []string `json:"qualities"`
}

// Terminal reports whether no further transitions are expected
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

var jobTransitions = map[JobState][]JobState{
	JobStateReceived:             {JobStateDownloading},
	JobStateDownloading:          {JobStateEncoding},
	JobStateEncoding:             {JobStatePublishing, JobStateEncoding},
	JobStatePublishing:           {JobStateEncoding, JobStatePublishing, JobStateRegeneratingManifest},
	JobStateRegeneratingManifest: {JobStateDone},
}

// CanTransition reports whether a job may move from one state to another.
// Failed and retrying are reachable from every non-terminal state. Received
// is reachable from everywhere because every delivery of a message, including
// a redelivery after a crash, starts the pipeline over.
func CanTransition(from, to JobState) bool {
	switch to {
	case JobStateReceived:
		return true
	case JobStateFailed, JobStateRetrying:
		return !from.Terminal()
	}
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Package taskmanager implements the worker-pool scheduler that drives the
// fetch -> parse -> report pipeline for podcast feed URLs: task bookkeeping,
// host-aware batch distribution, per-worker retry/backoff, and graceful
// shutdown.
package taskmanager

import (
	"sync"
	"time"

	"podcastcrawler/internal/feed"
)

// Status is the lifecycle state of a Task. It progresses monotonically
// through Pending -> InProgress -> (Completed | Failed).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrorKind classifies why a task failed, mirroring the error taxonomy.
type ErrorKind string

const (
	ErrNone ErrorKind = ""

	// Network errors (retryable unless noted).
	ErrConnectionFailed ErrorKind = "connection_failed"
	ErrTimeout          ErrorKind = "timeout"
	ErrRateLimited      ErrorKind = "rate_limited"
	ErrInvalidResponse  ErrorKind = "invalid_response"
	ErrTooManyRedirects ErrorKind = "too_many_redirects"

	// Parse errors (never retryable).
	ErrInvalidXML    ErrorKind = "invalid_xml"
	ErrInvalidRSS    ErrorKind = "invalid_rss"
	ErrInvalidAtom   ErrorKind = "invalid_atom"
	ErrMissingField  ErrorKind = "missing_field"
	ErrInvalidFormat ErrorKind = "invalid_format"

	// Domain errors (rejected at submission).
	ErrValidationFailed ErrorKind = "validation_failed"
	ErrInvalidURL       ErrorKind = "invalid_url"

	// Infrastructure errors.
	ErrQueueFull          ErrorKind = "queue_full"
	ErrShutdownInProgress ErrorKind = "shutdown_in_progress"
	ErrAborted            ErrorKind = "aborted"
)

// Task is a single unit of work: fetch and parse one URL. It is mutated
// only by the worker currently owning it (and by Shutdown's force-finalize
// path) and read by snapshot callers under mu.
type Task struct {
	mu sync.Mutex

	ID          int64
	URL         string
	Status      Status
	Attempts    uint
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	WorkerID    int

	ErrorKind    ErrorKind
	ErrorMessage string
}

// TaskResult is the terminal outcome of a Task, reported by the worker that
// ran it to the TaskManager's result collector.
type TaskResult struct {
	TaskID   int64
	URL      string
	Success  bool
	Duration time.Duration
	Attempts uint

	Data *feed.PodcastFeed

	ErrorKind    ErrorKind
	ErrorMessage string
}

// Snapshot is a read-only view of a Task returned by GetTask/AllTasks.
type Snapshot struct {
	TaskID       int64
	URL          string
	Status       Status
	Attempts     uint
	SubmittedAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	WorkerID     int
	ErrorKind    ErrorKind
	ErrorMessage string
	TimedOut     bool
}

func snapshotOf(t *Task) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		TaskID:       t.ID,
		URL:          t.URL,
		Status:       t.Status,
		Attempts:     t.Attempts,
		SubmittedAt:  t.SubmittedAt,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		WorkerID:     t.WorkerID,
		ErrorKind:    t.ErrorKind,
		ErrorMessage: t.ErrorMessage,
	}
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunFinished is returned by FinishRun when the run already left the
// running state. A run is finished exactly once.
var ErrRunFinished = errors.New("run already finished")

type RunKind string

const (
	RunKindDistill  RunKind = "distill"
	RunKindCurate   RunKind = "curate"
	RunKindWebScout RunKind = "webScout"
	RunKindResearch RunKind = "research"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
	RunStatusPartial RunStatus = "partial"
)

type Run struct {
	ID        string     `json:"id"`
	Kind      RunKind    `json:"kind"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// RunStep is one appended entry of a run's trace. Input and Output hold
// JSON text; the store does not interpret them.
type RunStep struct {
	RunID         string    `json:"run_id"`
	Seq           int       `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Input         string    `json:"input,omitempty"`
	Output        string    `json:"output,omitempty"`
	Error         string    `json:"error,omitempty"`
	TokenEstimate int       `json:"token_estimate,omitempty"`
}

type RunTrace struct {
	Run   Run       `json:"run"`
	Steps []RunStep `json:"steps"`
}

type ArtifactStatus string

const (
	ArtifactProposed   ArtifactStatus = "proposed"
	ArtifactApproved   ArtifactStatus = "approved"
	ArtifactRejected   ArtifactStatus = "rejected"
	ArtifactSuperseded ArtifactStatus = "superseded"
)

// AllArtifactStatuses lists every lifecycle state, in lifecycle order.
var AllArtifactStatuses = []ArtifactStatus{ArtifactProposed, ArtifactApproved, ArtifactRejected, ArtifactSuperseded}

type Artifact struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id,omitempty"`
	Agent      string         `json:"agent"`
	Kind       string         `json:"kind"`
	Day        string         `json:"day"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`     // JSON, shape keyed by (Agent, Kind)
	SourceRefs string         `json:"source_refs"` // JSON
	Status     ArtifactStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ReviewedAt *time.Time     `json:"reviewed_at,omitempty"`
}

// ArtifactInput carries the caller-supplied fields of a new artifact.
type ArtifactInput struct {
	RunID      string
	Agent      string
	Kind       string
	Day        string
	Title      string
	Content    string
	SourceRefs string
}

type SourceWatchItem struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url"`
	Domain             string     `json:"domain"`
	Label              string     `json:"label"`
	Kind               string     `json:"kind"`
	IsActive           bool       `json:"is_active"`
	CheckIntervalHours int        `json:"check_interval_hours"`
	LastCheckedAt      *time.Time `json:"last_checked_at,omitempty"`
}

type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Tags        []string  `json:"tags"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	VectorID    string    `json:"vector_id,omitempty"`
}

// InsertResult reports the outcome of InsertDocument. Created is false when
// a document with the same normalized content already existed.
type InsertResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type Report struct {
	ID         string    `json:"id"`
	Day        string    `json:"day"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	SourceRefs string    `json:"source_refs"`
	CreatedAt  time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

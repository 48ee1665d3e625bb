package domain

import (
	"fmt"
	"time"
)

// JobMode enumerates the supported media pipelines.
type JobMode string

const (
	ModeVideoSwap JobMode = "video_swap"
	ModePhotoSing JobMode = "photo_sing"
)

// Quality selects the latency/fidelity trade-off applied by the compute backend.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityBalanced Quality = "balanced"
	QualityMax      Quality = "max"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusDispatched JobStatus = "dispatched"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Stage names are advisory progress markers within a status.
const (
	StageQueued        = "queued"
	StagePreprocessing = "preprocessing"
	StageGenerating    = "generating"
	StageDone          = "done"
	StageFailed        = "failed"
)

// FailureKind classifies the cause recorded alongside a failed status.
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureRejected    FailureKind = "rejected"
	FailureRemote      FailureKind = "remote"
	FailureTimeout     FailureKind = "timeout"
)

const (
	// DefaultQuality is applied when the request omits the quality tier.
	DefaultQuality = QualityBalanced
	// DefaultAspectRatio is applied when the request omits the aspect ratio.
	DefaultAspectRatio = "9:16"
)

var allowedAspectRatios = map[string]struct{}{
	"9:16": {},
	"1:1":  {},
	"4:5":  {},
}

// JobParams captures the client-tunable knobs of a job request.
type JobParams struct {
	Mode        JobMode `json:"mode"`
	Quality     Quality `json:"quality"`
	AspectRatio string  `json:"aspect_ratio"`
	Enable4K    bool    `json:"enable_4k"`
}

// Normalize applies server defaults for omitted optional knobs.
func (p *JobParams) Normalize() {
	if p == nil {
		return
	}
	if p.Quality == "" {
		p.Quality = DefaultQuality
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
}

// Validate ensures the parameters satisfy the intake contract.
func (p JobParams) Validate() error {
	switch p.Mode {
	case ModeVideoSwap, ModePhotoSing:
	case "":
		return fmt.Errorf("mode is required")
	default:
		return fmt.Errorf("mode must be one of video_swap, photo_sing")
	}
	switch p.Quality {
	case QualityFast, QualityBalanced, QualityMax:
	default:
		return fmt.Errorf("quality must be one of fast, balanced, max")
	}
	if _, ok := allowedAspectRatios[p.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 9:16, 1:1, 4:5")
	}
	return nil
}

// StageWindow records when a stage was first entered and last touched.
type StageWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StageTimings maps stage name to its observed window.
type StageTimings map[string]StageWindow

// Job tracks one face-swap or photo-sing request through its lifecycle.
type Job struct {
	ID             string
	Params         JobParams
	ConfigHash     string
	AssetRefs      map[AssetRole]string
	Status         JobStatus
	Stage          string
	StageTimings   StageTimings
	AttemptCount   int
	FailureKind    FailureKind
	ExternalHandle string
	RequestID      string
	OutputRef      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MarkStage records the current stage and updates its timing window. The
// first visit fixes the window start; every visit moves the end.
func (j *Job) MarkStage(stage string, now time.Time) {
	if j.StageTimings == nil {
		j.StageTimings = StageTimings{}
	}
	w := j.StageTimings[stage]
	if w.Start.IsZero() {
		w.Start = now
	}
	w.End = now
	j.StageTimings[stage] = w
	j.Stage = stage
}

// Terminal reports whether the status admits no further transitions except retry.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var legalTransitions = map[JobStatus]map[JobStatus]struct{}{
	StatusQueued:     {StatusDispatched: {}, StatusFailed: {}},
	StatusDispatched: {StatusCompleted: {}, StatusFailed: {}},
	StatusFailed:     {StatusQueued: {}},
}

// CanTransition reports whether the status edge from -> to belongs to the job
// state machine.
func CanTransition(from, to JobStatus) bool {
	next, ok := legalTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

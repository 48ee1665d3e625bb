package compute

import (
	"context"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

// Descriptor carries everything the remote backend needs to run one job.
type Descriptor struct {
	JobID       string
	Mode        domain.JobMode
	Quality     domain.Quality
	AspectRatio string
	Enable4K    bool
	AssetURLs   map[domain.AssetRole]string
	Output      *OutputTarget
	Callback    *CallbackTarget
}

// OutputTarget tells the worker where to place the rendered result.
type OutputTarget struct {
	UploadURL string
	OutputURL string
	OutputRef string
}

// CallbackTarget is the signed completion webhook the worker reports to.
type CallbackTarget struct {
	URL    string
	Secret string
}

// SubmitResult identifies an accepted submission on the backend.
type SubmitResult struct {
	Handle    string
	RequestID string
}

// RemoteState classifies a backend job state.
type RemoteState string

const (
	StatePending   RemoteState = "pending"
	StateCompleted RemoteState = "completed"
	StateFailed    RemoteState = "failed"
)

// RemoteStatus is the normalized result of a status poll. Detail keeps the
// backend's own status word for logging.
type RemoteStatus struct {
	State        RemoteState
	Detail       string
	OutputRef    string
	OutputURL    string
	OutputBase64 string
	Error        string
}

// Provider submits jobs to a compute backend and polls their progress.
// Submit errors wrap domain.ErrRejected when the backend refused the job;
// anything else is treated as the backend being unreachable.
type Provider interface {
	Name() string
	Submit(ctx context.Context, d Descriptor) (SubmitResult, error)
	CheckStatus(ctx context.Context, handle string) (RemoteStatus, error)
}

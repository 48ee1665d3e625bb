package compute

import "context"

// Mock accepts every submission without calling out anywhere. It is the
// fallback provider for local development when no RunPod credentials are
// configured; jobs complete only through the callback endpoint.
type Mock struct{}

// NewMock constructs the mock provider.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Name() string {
	return "mock"
}

func (m *Mock) Submit(ctx context.Context, d Descriptor) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Handle: "mock-" + d.JobID, RequestID: d.JobID}, nil
}

func (m *Mock) CheckStatus(ctx context.Context, handle string) (RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return RemoteStatus{}, err
	}
	return RemoteStatus{State: StatePending, Detail: "IN_PROGRESS"}, nil
}

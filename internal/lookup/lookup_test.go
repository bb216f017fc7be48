package lookup

import (
	"context"
	"testing"

	"github.com/payrail/orchestrator/internal/repository"
	"github.com/payrail/orchestrator/internal/saga"
)

type fakeFinder struct {
	sagas        map[string]*saga.Saga
	byPayment    map[string]*saga.Saga
	byCorrel     map[string]*saga.Saga
	lastTenantID string
}

func (f *fakeFinder) GetSaga(ctx context.Context, id string) (*saga.Saga, error) {
	sg, ok := f.sagas[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sg, nil
}

func (f *fakeFinder) FindByPaymentID(ctx context.Context, tenantID, paymentID string) (*saga.Saga, error) {
	f.lastTenantID = tenantID
	sg, ok := f.byPayment[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sg, nil
}

func (f *fakeFinder) FindByCorrelationID(ctx context.Context, tenantID, correlationID string) (*saga.Saga, error) {
	f.lastTenantID = tenantID
	sg, ok := f.byCorrel[correlationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sg, nil
}

func fixtureSaga() *saga.Saga {
	return &saga.Saga{
		ID:          "saga-1",
		CurrentStep: 1,
		Steps: []*saga.Step{
			{ID: "s0", Sequence: 0, Status: saga.StepCompleted},
			{ID: "s1", Sequence: 1, Status: saga.StepRunning},
			{ID: "s2", Sequence: 2, Status: saga.StepPending},
		},
	}
}

func TestByPaymentIDPassesTenant(t *testing.T) {
	finder := &fakeFinder{byPayment: map[string]*saga.Saga{"pay-1": fixtureSaga()}}
	svc := NewService(finder)

	sg, err := svc.ByPaymentID(context.Background(), "tenant-1", "pay-1")
	if err != nil {
		t.Fatalf("ByPaymentID: %v", err)
	}
	if sg.ID != "saga-1" {
		t.Errorf("saga = %+v", sg)
	}
	if finder.lastTenantID != "tenant-1" {
		t.Errorf("tenant = %q, lookup not tenant-scoped", finder.lastTenantID)
	}
}

func TestByCorrelationIDNotFound(t *testing.T) {
	svc := NewService(&fakeFinder{})
	_, err := svc.ByCorrelationID(context.Background(), "tenant-1", "corr-x")
	if err != repository.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCurrentStep(t *testing.T) {
	finder := &fakeFinder{sagas: map[string]*saga.Saga{"saga-1": fixtureSaga()}}
	svc := NewService(finder)

	st, err := svc.CurrentStep(context.Background(), "saga-1")
	if err != nil {
		t.Fatalf("CurrentStep: %v", err)
	}
	if st == nil || st.ID != "s1" {
		t.Errorf("current step = %v", st)
	}
}

func TestCurrentStepPastEnd(t *testing.T) {
	sg := fixtureSaga()
	sg.CurrentStep = 3
	finder := &fakeFinder{sagas: map[string]*saga.Saga{"saga-1": sg}}

	st, err := NewService(finder).CurrentStep(context.Background(), "saga-1")
	if err != nil {
		t.Fatalf("CurrentStep: %v", err)
	}
	if st != nil {
		t.Errorf("step = %v, want nil past last step", st)
	}
}

func TestCompletedSteps(t *testing.T) {
	finder := &fakeFinder{sagas: map[string]*saga.Saga{"saga-1": fixtureSaga()}}
	done, err := NewService(finder).CompletedSteps(context.Background(), "saga-1")
	if err != nil {
		t.Fatalf("CompletedSteps: %v", err)
	}
	if len(done) != 1 || done[0].ID != "s0" {
		t.Errorf("completed = %v", done)
	}
}

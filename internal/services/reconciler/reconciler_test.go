package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type repoMock struct {
	mock.Mock
}

func (m *repoMock) ApplyShipment(ctx context.Context, sh models.Shipment) (bool, error) {
	args := m.Called(ctx, sh)
	return args.Bool(0), args.Error(1)
}

func event(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(messages.ShipmentPurchased{
		OrderID: "o-1", QuotationID: "q", RateID: "r", ShipmentID: "s-1",
		Tracking: "794", LabelURL: "https://l/1.pdf", Attempt: 1, PurchasedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return b
}

func newTestReconciler(repo Repository) (*Reconciler, *[]time.Duration) {
	var slept []time.Duration
	r := New(repo)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestHandle_Applies(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, models.Shipment{
		ID: "s-1", OrderID: "o-1", QuotationID: "q", RateID: "r", TrackingNumber: "794", LabelURL: "https://l/1.pdf",
	}).Return(true, nil).Once()

	r, _ := newTestReconciler(repo)
	require.NoError(t, r.Handle(context.Background(), []byte("o-1"), event(t)))

	st := r.Stats()
	require.Equal(t, int64(1), st.TotalReceived)
	require.Equal(t, int64(1), st.TotalApplied)
	require.NotNil(t, st.LastEventAt)
	repo.AssertExpectations(t)
}

func TestHandle_AlreadyRecordedIsSkipped(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, mock.Anything).Return(false, nil).Once()

	r, _ := newTestReconciler(repo)
	require.NoError(t, r.Handle(context.Background(), nil, event(t)))
	require.Equal(t, int64(1), r.Stats().TotalSkipped)
}

func TestHandle_BadPayloadIsSkipped(t *testing.T) {
	repo := &repoMock{}
	r, _ := newTestReconciler(repo)

	require.NoError(t, r.Handle(context.Background(), []byte("k"), []byte("{")))
	require.NoError(t, r.Handle(context.Background(), []byte("k"), []byte(`{"order_id":"o-1"}`)))
	require.Equal(t, int64(2), r.Stats().TotalSkipped)
	repo.AssertNotCalled(t, "ApplyShipment", mock.Anything, mock.Anything)
}

func TestHandle_NotApplicableIsSkipped(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, mock.Anything).
		Return(false, shiperr.Conflict("order o-1 already has tracking X")).Once()

	r, slept := newTestReconciler(repo)
	require.NoError(t, r.Handle(context.Background(), nil, event(t)))
	require.Empty(t, *slept)
	require.Contains(t, r.Stats().LastError, "already has tracking")
}

func TestHandle_RetriesWithBackoffThenSucceeds(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, mock.Anything).Return(false, errors.New("conn refused")).Twice()
	repo.On("ApplyShipment", mock.Anything, mock.Anything).Return(true, nil).Once()

	r, slept := newTestReconciler(repo)
	require.NoError(t, r.Handle(context.Background(), nil, event(t)))
	require.Equal(t, []time.Duration{time.Second, 5 * time.Second}, *slept)
	require.Equal(t, int64(2), r.Stats().TotalRetries)
	require.Equal(t, int64(1), r.Stats().TotalApplied)
}

func TestHandle_GivesUpAfterSchedule(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, mock.Anything).Return(false, errors.New("conn refused"))

	r, slept := newTestReconciler(repo)
	err := r.Handle(context.Background(), nil, event(t))
	require.Error(t, err)
	require.Equal(t, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second}, *slept)
	repo.AssertNumberOfCalls(t, "ApplyShipment", 5)
	require.Equal(t, int64(1), r.Stats().TotalErrors)
}

func TestHandle_ContextCancelledDuringBackoff(t *testing.T) {
	repo := &repoMock{}
	repo.On("ApplyShipment", mock.Anything, mock.Anything).Return(false, errors.New("conn refused"))

	r := New(repo)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Handle(ctx, nil, event(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_DefaultsAndOverrides(t *testing.T) {
	b := NewBackoff(BackoffConfig{Backoff2: time.Minute})
	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, time.Minute, b.Delay(2))
	require.Equal(t, 15*time.Second, b.Delay(3))
	require.Equal(t, 30*time.Second, b.Delay(9))
	require.Len(t, b.Steps(), 4)

	r := New(nil).WithBackoff(BackoffConfig{Backoff1: time.Millisecond})
	require.Equal(t, time.Millisecond, r.backoff.Delay(1))
}

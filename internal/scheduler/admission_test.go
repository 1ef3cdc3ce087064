package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daymark/internal/types"
)

// fakeAdmissionStore simulates the conditional SCHEDULED -> QUEUED update.
type fakeAdmissionStore struct {
	due      []*types.MessageRecord
	listErr  error
	admitted map[string]bool
	// lostRace marks record IDs a concurrent run already claimed.
	lostRace map[string]bool
	admitErr error
}

func (f *fakeAdmissionStore) ListDue(context.Context, time.Time, time.Duration, int) ([]*types.MessageRecord, error) {
	return f.due, f.listErr
}

func (f *fakeAdmissionStore) Admit(_ context.Context, id string) (bool, error) {
	if f.admitErr != nil {
		return false, f.admitErr
	}
	if f.lostRace[id] {
		return false, nil
	}
	if f.admitted == nil {
		f.admitted = make(map[string]bool)
	}
	f.admitted[id] = true
	return true, nil
}

// fakePublisher captures published envelopes.
type fakePublisher struct {
	published  []types.GreetingMessage
	publishErr error
}

func (f *fakePublisher) Publish(_ context.Context, msg types.GreetingMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func record(id string) *types.MessageRecord {
	return &types.MessageRecord{
		ID:        id,
		UserID:    "user_" + id,
		EventType: types.EventBirthday,
		Status:    types.StatusScheduled,
	}
}

func newAdmission(store *fakeAdmissionStore, pub *fakePublisher) *AdmissionJob {
	return NewAdmissionJob(AdmissionConfig{
		Records:   store,
		Publisher: pub,
		Lookahead: time.Hour,
		BatchSize: 500,
		Logger:    testLogger(),
	})
}

func TestAdmissionJob_AdmitsAndPublishes(t *testing.T) {
	store := &fakeAdmissionStore{due: []*types.MessageRecord{record("a"), record("b")}}
	pub := &fakePublisher{}

	stats, err := newAdmission(store, pub).Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Admitted)
	require.Len(t, pub.published, 2)
	assert.Equal(t, "a", pub.published[0].RecordID)
	assert.NotEmpty(t, pub.published[0].TraceID)
	assert.Zero(t, pub.published[0].RequeueCount)
}

func TestAdmissionJob_LostRaceIsNotPublished(t *testing.T) {
	store := &fakeAdmissionStore{
		due:      []*types.MessageRecord{record("a"), record("b")},
		lostRace: map[string]bool{"a": true},
	}
	pub := &fakePublisher{}

	stats, err := newAdmission(store, pub).Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Admitted)
	assert.Equal(t, 1, stats.Duplicates)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "b", pub.published[0].RecordID)
}

func TestAdmissionJob_PublishFailureLeavesRecordQueued(t *testing.T) {
	// Update-then-publish: the record stays QUEUED and the recovery job
	// re-admits it. The run itself does not fail.
	store := &fakeAdmissionStore{due: []*types.MessageRecord{record("a")}}
	pub := &fakePublisher{publishErr: errors.New("broker unavailable")}

	stats, err := newAdmission(store, pub).Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Admitted)
	assert.Equal(t, 1, stats.Errors)
	assert.True(t, store.admitted["a"])
}

func TestAdmissionJob_ListErrorAbortsRun(t *testing.T) {
	store := &fakeAdmissionStore{listErr: errors.New("connection refused")}

	_, err := newAdmission(store, &fakePublisher{}).Run(context.Background(), time.Now())
	require.Error(t, err)
}

func TestAdmissionJob_CancelledContextStopsBatch(t *testing.T) {
	store := &fakeAdmissionStore{due: []*types.MessageRecord{record("a"), record("b")}}
	pub := &fakePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAdmission(store, pub).Run(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.published)
}

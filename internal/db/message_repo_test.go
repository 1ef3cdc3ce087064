package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daymark/internal/types"
)

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// recordMockRows implements pgx.Rows over canned message_records rows.
type recordMockRows struct {
	data   []recordRowData
	idx    int
	closed bool
	errVal error
}

type recordRowData struct {
	id             string
	userID         string
	eventType      string
	idempotencyKey string
	scheduledAtUTC time.Time
	status         string
	retryCount     int
	lastError      *string
	createdAt      time.Time
	updatedAt      time.Time
}

func (r *recordMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx <= len(r.data)
}

func (r *recordMockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.userID
	*dest[2].(*string) = row.eventType
	*dest[3].(*string) = row.idempotencyKey
	*dest[4].(*time.Time) = row.scheduledAtUTC
	*dest[5].(*string) = row.status
	*dest[6].(*int) = row.retryCount
	*dest[7].(**string) = row.lastError
	*dest[8].(*time.Time) = row.createdAt
	*dest[9].(*time.Time) = row.updatedAt
	return nil
}

func (r *recordMockRows) Close()                                       { r.closed = true }
func (r *recordMockRows) Err() error                                   { return r.errVal }
func (r *recordMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *recordMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *recordMockRows) RawValues() [][]byte                          { return nil }
func (r *recordMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *recordMockRows) Conn() *pgx.Conn                              { return nil }

// --- InsertIfAbsent ---

func TestMessageRepository_InsertIfAbsent_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.InsertIfAbsent(context.Background(), &types.MessageRecord{
		ID:             "rec_1",
		UserID:         "user_1",
		EventType:      types.EventBirthday,
		IdempotencyKey: "user_1:BIRTHDAY:2026",
		ScheduledAtUTC: time.Date(2026, 7, 14, 2, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestMessageRepository_InsertIfAbsent_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	// ON CONFLICT DO NOTHING yields zero affected rows.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.InsertIfAbsent(context.Background(), &types.MessageRecord{
		ID:             "rec_1",
		IdempotencyKey: "user_1:BIRTHDAY:2026",
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMessageRepository_InsertIfAbsent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.InsertIfAbsent(context.Background(), &types.MessageRecord{ID: "rec_1"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

// --- GetByID ---

func TestMessageRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	scheduled := time.Date(2026, 7, 14, 2, 0, 0, 0, time.UTC)
	lastError := "provider returned 503"
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "rec_1"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "BIRTHDAY"
			*dest[3].(*string) = "user_1:BIRTHDAY:2026"
			*dest[4].(*time.Time) = scheduled
			*dest[5].(*string) = "QUEUED"
			*dest[6].(*int) = 2
			*dest[7].(**string) = &lastError
			*dest[8].(*time.Time) = scheduled
			*dest[9].(*time.Time) = scheduled
			return nil
		}})

	rec, err := repo.GetByID(context.Background(), "rec_1")
	require.NoError(t, err)
	assert.Equal(t, types.EventBirthday, rec.EventType)
	assert.Equal(t, types.StatusQueued, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, "provider returned 503", rec.LastError)
}

func TestMessageRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundRecord, types.CodeOf(err))
}

// --- Conditional transitions ---

func TestMessageRepository_Admit_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.Admit(context.Background(), "rec_1")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMessageRepository_Admit_LostRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	// Another admission or recovery run transitioned the record first.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.Admit(context.Background(), "rec_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMessageRepository_Requeue_BudgetGuard(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		// A stalled QUEUED record is charged one attempt.
		return args[1] == 1 && args[2] == "rec_1" && args[3] == "QUEUED" && args[4] == 3
	})).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.Requeue(context.Background(), "rec_1", types.StatusQueued, 3)
	require.NoError(t, err)
	assert.False(t, applied)
	db.AssertExpectations(t)
}

func TestMessageRepository_Requeue_ScheduledIsNotCharged(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		// Re-admitting a released record must not burn retry budget; the
		// delivery worker already charged the failed attempt.
		return args[1] == 0 && args[2] == "rec_1" && args[3] == "SCHEDULED" && args[4] == 3
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.Requeue(context.Background(), "rec_1", types.StatusScheduled, 3)
	require.NoError(t, err)
	assert.True(t, applied)
	db.AssertExpectations(t)
}

func TestMessageRepository_Release_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	applied, err := repo.Release(context.Background(), "rec_1", "provider returned 503", 3)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMessageRepository_MarkSent_AlreadyTerminal(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.MarkSent(context.Background(), "rec_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMessageRepository_MarkFailed_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkFailed(context.Background(), "rec_1", "retry budget exhausted")
	require.NoError(t, err)
}

// --- List queries ---

func TestMessageRepository_ListDue(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	now := time.Date(2026, 7, 14, 1, 30, 0, 0, time.UTC)
	rows := &recordMockRows{data: []recordRowData{
		{
			id: "rec_1", userID: "user_1", eventType: "BIRTHDAY",
			idempotencyKey: "user_1:BIRTHDAY:2026",
			scheduledAtUTC: now.Add(30 * time.Minute),
			status:         "SCHEDULED",
		},
		{
			id: "rec_2", userID: "user_2", eventType: "ANNIVERSARY",
			idempotencyKey: "user_2:ANNIVERSARY:2026",
			scheduledAtUTC: now.Add(45 * time.Minute),
			status:         "SCHEDULED",
		},
	}}

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	due, err := repo.ListDue(context.Background(), now, time.Hour, 500)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "rec_1", due[0].ID)
	assert.Equal(t, types.EventAnniversary, due[1].EventType)
}

func TestMessageRepository_ListStalled_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.ListStalled(context.Background(), time.Now(), 500)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestMessageRepository_DeleteByIDs_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	// No Exec expectation: an empty batch must not touch the database.
	deleted, err := repo.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	db.AssertExpectations(t)
}

func TestMessageRepository_DeleteByIDs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 3"), nil)

	deleted, err := repo.DeleteByIDs(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

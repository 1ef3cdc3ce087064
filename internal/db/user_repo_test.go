package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daymark/internal/types"
)

// userMockRows implements pgx.Rows over canned users rows.
type userMockRows struct {
	data   []userRowData
	idx    int
	closed bool
	errVal error
}

type userRowData struct {
	id          string
	displayName string
	email       string
	birthday    time.Time
	anniversary *time.Time
	timezone    string
}

func (r *userMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx <= len(r.data)
}

func (r *userMockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.displayName
	*dest[2].(*string) = row.email
	*dest[3].(*time.Time) = row.birthday
	*dest[4].(**time.Time) = row.anniversary
	*dest[5].(*string) = row.timezone
	return nil
}

func (r *userMockRows) Close()                                       { r.closed = true }
func (r *userMockRows) Err() error                                   { return r.errVal }
func (r *userMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *userMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *userMockRows) RawValues() [][]byte                          { return nil }
func (r *userMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *userMockRows) Conn() *pgx.Conn                              { return nil }

func TestUserRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	birthday := time.Date(1990, 7, 14, 0, 0, 0, 0, time.UTC)
	anniversary := time.Date(2015, 3, 2, 0, 0, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "Ada"
			*dest[2].(*string) = "ada@example.com"
			*dest[3].(*time.Time) = birthday
			*dest[4].(**time.Time) = &anniversary
			*dest[5].(*string) = "Asia/Jakarta"
			return nil
		}})

	user, err := repo.GetByID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	require.NotNil(t, user.Anniversary)
	assert.Equal(t, anniversary, *user.Anniversary)
	assert.ElementsMatch(t,
		[]types.EventType{types.EventBirthday, types.EventAnniversary},
		user.Events(),
	)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeNotFoundUser, types.CodeOf(err))
}

func TestUserRepository_ListActive_Pagination(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)

	rows := &userMockRows{data: []userRowData{
		{id: "user_1", displayName: "Ada", email: "ada@example.com", timezone: "Asia/Jakarta"},
		{id: "user_2", displayName: "Ben", email: "ben@example.com", timezone: "Australia/Melbourne"},
	}}

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "user_0" && args[1] == 100
	})).Return(rows, nil)

	users, err := repo.ListActive(context.Background(), "user_0", 100)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "user_1", users[0].ID)
	assert.Nil(t, users[0].Anniversary)
	db.AssertExpectations(t)
}

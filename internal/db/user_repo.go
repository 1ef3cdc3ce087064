package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"daymark/internal/types"
)

// UserRepository is the read-only view of the users table owned by the
// user-management collaborator. The pipeline never mutates user records;
// it only scans active, non-deleted users during discovery.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID loads a single active user. The delivery worker calls this at
// send time so content renders from current profile data, not from a
// snapshot taken at discovery.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, display_name, email, birthday, anniversary, timezone
		 FROM users
		 WHERE deleted_at IS NULL AND id = $1`,
		id,
	)

	var (
		u           types.User
		anniversary *time.Time
	)
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Birthday, &anniversary, &u.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found or deleted", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	u.Anniversary = anniversary
	return &u, nil
}

// ListActive returns a page of active users ordered by id, starting after
// afterID (empty for the first page). Keyset pagination keeps the daily
// discovery scan bounded in memory regardless of user count.
func (r *UserRepository) ListActive(ctx context.Context, afterID string, limit int) ([]*types.User, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, display_name, email, birthday, anniversary, timezone
		 FROM users
		 WHERE deleted_at IS NULL AND id > $1
		 ORDER BY id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active users", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		var (
			u           types.User
			anniversary *time.Time
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Birthday, &anniversary, &u.Timezone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user row", err)
		}
		u.Anniversary = anniversary
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user rows", err)
	}

	return users, nil
}

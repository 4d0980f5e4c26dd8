package repository

import (
	"context"
	"database/sql"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/services/charging-service/internal/models"
)

// PointRepo is the Postgres PointRepository.
type PointRepo struct {
	db *sql.DB
}

// NewPointRepo returns repository.
func NewPointRepo(db *sql.DB) *PointRepo {
	return &PointRepo{db: db}
}

// Get loads a charging point.
func (r *PointRepo) Get(ctx context.Context, id int64) (*models.ChargingPoint, error) {
	const query = `
		SELECT id, station_id, connector_type, status, current_session_id
		FROM charging_points
		WHERE id = $1
	`
	var (
		p         models.ChargingPoint
		sessionID sql.NullInt64
	)
	err := libdb.Conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.StationID,
		&p.ConnectorType,
		&p.Status,
		&sessionID,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if sessionID.Valid {
		p.CurrentSessionID = &sessionID.Int64
	}
	return &p, nil
}

// TryAllocate flips an available point to in_use for the session in one statement.
func (r *PointRepo) TryAllocate(ctx context.Context, pointID, sessionID int64) (bool, error) {
	const query = `
		UPDATE charging_points
		SET status = 'in_use',
		    current_session_id = $2
		WHERE id = $1
		  AND status = 'available'
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, pointID, sessionID))
}

// TryRelease frees the point only while the given session holds it.
func (r *PointRepo) TryRelease(ctx context.Context, pointID, sessionID int64) (bool, error) {
	const query = `
		UPDATE charging_points
		SET status = 'available',
		    current_session_id = NULL
		WHERE id = $1
		  AND status = 'in_use'
		  AND current_session_id = $2
	`
	return applied(libdb.Conn(ctx, r.db).ExecContext(ctx, query, pointID, sessionID))
}

package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/maintenance"
)

const requestColumns = `id, unit_id, property_id, tenant_id, landlord_id, title, description, priority, status,
	created_at, updated_at, resolved_at`

var requestOrderings = map[string]string{
	"priority":   "priority",
	"status":     "status",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type requestRow struct {
	ID          string    `db:"id"`
	UnitID      string    `db:"unit_id"`
	PropertyID  string    `db:"property_id"`
	TenantID    string    `db:"tenant_id"`
	LandlordID  string    `db:"landlord_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Priority    string    `db:"priority"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	ResolvedAt  null.Time `db:"resolved_at"`
}

func newRequestRow(r maintenance.Request) requestRow {
	row := requestRow(r)
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	row.ResolvedAt = utcNull(row.ResolvedAt)
	return row
}

func (row requestRow) request() maintenance.Request {
	r := maintenance.Request(row)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.ResolvedAt = utcNull(r.ResolvedAt)
	return r
}

type maintenanceRepository struct {
	repository
}

var _ maintenance.Repository = (*maintenanceRepository)(nil) // interface compliance check

func NewMaintenanceRepository(exec core.DBExecutor) *maintenanceRepository {
	return &maintenanceRepository{repository{exec: exec}}
}

func (repo maintenanceRepository) CreateRequest(ctx context.Context, r maintenance.Request, exec ...core.DBExecutor) (maintenance.Request, error) {
	q := `INSERT INTO maintenance_requests (` + requestColumns + `)
		VALUES (:id, :unit_id, :property_id, :tenant_id, :landlord_id, :title, :description, :priority, :status,
			:created_at, :updated_at, :resolved_at)`
	row := newRequestRow(r)
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		return maintenance.Request{}, errors.Wrap(err, "inserting maintenance request")
	}
	return row.request(), nil
}

func (repo maintenanceRepository) QueryRequests(ctx context.Context, filter *maintenance.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]maintenance.Request, error) {
	var w where
	if filter != nil {
		w.in("status", filter.Statuses)
		w.in("priority", filter.Priorities)
		w.eq("unit_id", filter.UnitID)
		w.eq("property_id", filter.PropertyID)
		w.eq("tenant_id", filter.TenantID)
		w.eq("landlord_id", filter.LandlordID)
		w.in("id", filter.IDs)
	}

	q := "SELECT " + requestColumns + " FROM maintenance_requests" + w.String() + core.OrderByClause(ordering, requestOrderings, "created_at DESC")
	var rows []requestRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying maintenance requests")
	}

	reqs := make([]maintenance.Request, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.request())
	}
	return reqs, nil
}

func (repo maintenanceRepository) GetRequest(ctx context.Context, id string, exec ...core.DBExecutor) (maintenance.Request, error) {
	var row requestRow
	if err := getRow(ctx, repo.getExec(exec), &row, "SELECT "+requestColumns+" FROM maintenance_requests WHERE id = ?", id); err != nil {
		return maintenance.Request{}, trapNoRowsErr(err, maintenance.ErrNotFound, "finding maintenance request")
	}
	return row.request(), nil
}

func (repo maintenanceRepository) UpdateRequest(ctx context.Context, r maintenance.Request, exec ...core.DBExecutor) (maintenance.Request, error) {
	q := `UPDATE maintenance_requests SET title = :title, description = :description, priority = :priority, status = :status,
		updated_at = :updated_at, resolved_at = :resolved_at
		WHERE id = :id`
	row := newRequestRow(r)
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		return maintenance.Request{}, errors.Wrap(err, "updating maintenance request")
	}
	return row.request(), nil
}

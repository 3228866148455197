package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
)

const leaseColumns = `id, unit_id, property_id, landlord_id, tenant_id, start_date, end_date, monthly_rent, deposit, due_day,
	status, created_at, updated_at, terminated_at`

var leaseOrderings = map[string]string{
	"start_date":   "start_date",
	"end_date":     "end_date",
	"monthly_rent": "monthly_rent",
	"status":       "status",
	"created_at":   "created_at",
}

type leaseRow struct {
	ID           string          `db:"id"`
	UnitID       string          `db:"unit_id"`
	PropertyID   string          `db:"property_id"`
	LandlordID   string          `db:"landlord_id"`
	TenantID     string          `db:"tenant_id"`
	StartDate    time.Time       `db:"start_date"`
	EndDate      null.Time       `db:"end_date"`
	MonthlyRent  decimal.Decimal `db:"monthly_rent"`
	Deposit      decimal.Decimal `db:"deposit"`
	DueDay       int             `db:"due_day"`
	Status       string          `db:"status"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	TerminatedAt null.Time       `db:"terminated_at"`
}

func utcNull(t null.Time) null.Time {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}

func newLeaseRow(l lease.Lease) leaseRow {
	row := leaseRow(l)
	row.StartDate = row.StartDate.UTC()
	row.EndDate = utcNull(row.EndDate)
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	row.TerminatedAt = utcNull(row.TerminatedAt)
	return row
}

func (row leaseRow) lease() lease.Lease {
	l := lease.Lease(row)
	l.StartDate = l.StartDate.UTC()
	l.EndDate = utcNull(l.EndDate)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	l.TerminatedAt = utcNull(l.TerminatedAt)
	return l
}

type leaseRepository struct {
	repository
}

var _ lease.Repository = (*leaseRepository)(nil) // interface compliance check

func NewLeaseRepository(exec core.DBExecutor) *leaseRepository {
	return &leaseRepository{repository{exec: exec}}
}

func (repo leaseRepository) CreateLease(ctx context.Context, l lease.Lease, exec ...core.DBExecutor) (lease.Lease, error) {
	q := `INSERT INTO leases (` + leaseColumns + `)
		VALUES (:id, :unit_id, :property_id, :landlord_id, :tenant_id, :start_date, :end_date, :monthly_rent, :deposit, :due_day,
			:status, :created_at, :updated_at, :terminated_at)`
	row := newLeaseRow(l)
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		return lease.Lease{}, errors.Wrap(err, "inserting lease")
	}
	return row.lease(), nil
}

func (repo leaseRepository) QueryLeases(ctx context.Context, filter *lease.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]lease.Lease, error) {
	var w where
	if filter != nil {
		w.in("status", filter.Statuses)
		w.eq("unit_id", filter.UnitID)
		w.eq("property_id", filter.PropertyID)
		w.eq("tenant_id", filter.TenantID)
		w.eq("landlord_id", filter.LandlordID)
		w.in("id", filter.IDs)
		if !filter.EndBefore.IsZero() {
			w.add("end_date IS NOT NULL AND end_date < ?", filter.EndBefore.UTC())
		}
		if !filter.StartBy.IsZero() {
			w.add("start_date <= ?", filter.StartBy.UTC())
		}
	}

	q := "SELECT " + leaseColumns + " FROM leases" + w.String() + core.OrderByClause(ordering, leaseOrderings, "start_date DESC")
	var rows []leaseRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying leases")
	}

	leases := make([]lease.Lease, 0, len(rows))
	for _, row := range rows {
		leases = append(leases, row.lease())
	}
	return leases, nil
}

func (repo leaseRepository) GetLease(ctx context.Context, id string, exec ...core.DBExecutor) (lease.Lease, error) {
	var row leaseRow
	if err := getRow(ctx, repo.getExec(exec), &row, "SELECT "+leaseColumns+" FROM leases WHERE id = ?", id); err != nil {
		return lease.Lease{}, trapNoRowsErr(err, lease.ErrNotFound, "finding lease")
	}
	return row.lease(), nil
}

func (repo leaseRepository) UpdateLease(ctx context.Context, l lease.Lease, exec ...core.DBExecutor) (lease.Lease, error) {
	q := `UPDATE leases SET end_date = :end_date, monthly_rent = :monthly_rent, deposit = :deposit, due_day = :due_day,
		status = :status, updated_at = :updated_at, terminated_at = :terminated_at
		WHERE id = :id`
	row := newLeaseRow(l)
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		return lease.Lease{}, errors.Wrap(err, "updating lease")
	}
	return row.lease(), nil
}

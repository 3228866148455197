package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/property"
)

const (
	propertyColumns = "id, landlord_id, name, address, city, description, created_at, updated_at"
	unitColumns     = "u.id, u.property_id, u.label, u.bedrooms, u.bathrooms, u.monthly_rent, u.status, u.created_at, u.updated_at, p.landlord_id"
	unitsJoin       = " FROM units u JOIN properties p ON p.id = u.property_id"
)

var (
	propertyOrderings = map[string]string{
		"name":       "name",
		"city":       "city",
		"created_at": "created_at",
	}
	unitOrderings = map[string]string{
		"label":        "u.label",
		"monthly_rent": "u.monthly_rent",
		"bedrooms":     "u.bedrooms",
		"status":       "u.status",
		"created_at":   "u.created_at",
	}
)

type unitRow struct {
	ID          string          `db:"id"`
	PropertyID  string          `db:"property_id"`
	Label       string          `db:"label"`
	Bedrooms    int             `db:"bedrooms"`
	Bathrooms   int             `db:"bathrooms"`
	MonthlyRent decimal.Decimal `db:"monthly_rent"`
	Status      string          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	LandlordID  string          `db:"landlord_id"`
}

func (row unitRow) unit() property.Unit {
	return property.Unit{
		ID:          row.ID,
		PropertyID:  row.PropertyID,
		Label:       row.Label,
		Bedrooms:    row.Bedrooms,
		Bathrooms:   row.Bathrooms,
		MonthlyRent: row.MonthlyRent,
		Status:      row.Status,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
		LandlordID:  row.LandlordID,
	}
}

type propertyRow struct {
	ID          string    `db:"id"`
	LandlordID  string    `db:"landlord_id"`
	Name        string    `db:"name"`
	Address     string    `db:"address"`
	City        string    `db:"city"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row propertyRow) property() property.Property {
	p := property.Property(row)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p
}

type propertyRepository struct {
	repository
}

var _ property.Repository = (*propertyRepository)(nil) // interface compliance check

func NewPropertyRepository(exec core.DBExecutor) *propertyRepository {
	return &propertyRepository{repository{exec: exec}}
}

func (repo propertyRepository) CreateProperty(ctx context.Context, p property.Property, exec ...core.DBExecutor) (property.Property, error) {
	q := `INSERT INTO properties (` + propertyColumns + `)
		VALUES (:id, :landlord_id, :name, :address, :city, :description, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, propertyRow(p)); err != nil {
		return property.Property{}, errors.Wrap(err, "inserting property")
	}
	return p, nil
}

func (repo propertyRepository) QueryProperties(ctx context.Context, filter *property.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]property.Property, error) {
	var w where
	if filter != nil {
		w.search(filter.Search, "name", "address", "city")
		if filter.City != "" {
			w.add("LOWER(city) = ?", strings.ToLower(filter.City))
		}
		w.eq("landlord_id", filter.LandlordID)
		w.eq("id", filter.ID)
		if filter.TenantID != "" {
			w.add("id IN (SELECT property_id FROM leases WHERE tenant_id = ? AND status = ?)", filter.TenantID, lease.StatusActive)
		}
	}

	q := "SELECT " + propertyColumns + " FROM properties" + w.String() + core.OrderByClause(ordering, propertyOrderings, "name ASC")
	var rows []propertyRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying properties")
	}

	props := make([]property.Property, 0, len(rows))
	for _, row := range rows {
		props = append(props, row.property())
	}
	return props, nil
}

func (repo propertyRepository) GetProperty(ctx context.Context, id string, exec ...core.DBExecutor) (property.Property, error) {
	var row propertyRow
	if err := getRow(ctx, repo.getExec(exec), &row, "SELECT "+propertyColumns+" FROM properties WHERE id = ?", id); err != nil {
		return property.Property{}, trapNoRowsErr(err, property.ErrNotFound, "finding property")
	}
	return row.property(), nil
}

func (repo propertyRepository) UpdateProperty(ctx context.Context, p property.Property, exec ...core.DBExecutor) (property.Property, error) {
	q := `UPDATE properties SET name = :name, address = :address, city = :city, description = :description, updated_at = :updated_at
		WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, propertyRow(p)); err != nil {
		return property.Property{}, errors.Wrap(err, "updating property")
	}
	return p, nil
}

func (repo propertyRepository) DeleteProperty(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return execOne(ctx, repo.getExec(exec), property.ErrNotFound, "deleting property", "DELETE FROM properties WHERE id = ?", id)
}

func (repo propertyRepository) CreateUnit(ctx context.Context, u property.Unit, exec ...core.DBExecutor) (property.Unit, error) {
	q := `INSERT INTO units (id, property_id, label, bedrooms, bathrooms, monthly_rent, status, created_at, updated_at)
		VALUES (:id, :property_id, :label, :bedrooms, :bathrooms, :monthly_rent, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, unitRow(u)); err != nil {
		return property.Unit{}, errors.Wrap(err, "inserting unit")
	}
	return u, nil
}

func (repo propertyRepository) QueryUnits(ctx context.Context, filter *property.UnitFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]property.Unit, error) {
	var w where
	if filter != nil {
		w.eq("u.property_id", filter.PropertyID)
		w.in("u.status", filter.Statuses)
		w.eq("p.landlord_id", filter.LandlordID)
		w.in("u.id", filter.IDs)
		if filter.TenantID != "" {
			w.add("u.id IN (SELECT unit_id FROM leases WHERE tenant_id = ? AND status = ?)", filter.TenantID, lease.StatusActive)
		}
	}

	q := "SELECT " + unitColumns + unitsJoin + w.String() + core.OrderByClause(ordering, unitOrderings, "u.label ASC")
	var rows []unitRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying units")
	}

	units := make([]property.Unit, 0, len(rows))
	for _, row := range rows {
		units = append(units, row.unit())
	}
	return units, nil
}

func (repo propertyRepository) GetUnit(ctx context.Context, id string, exec ...core.DBExecutor) (property.Unit, error) {
	var row unitRow
	if err := getRow(ctx, repo.getExec(exec), &row, "SELECT "+unitColumns+unitsJoin+" WHERE u.id = ?", id); err != nil {
		return property.Unit{}, trapNoRowsErr(err, property.ErrUnitNotFound, "finding unit")
	}
	return row.unit(), nil
}

func (repo propertyRepository) UpdateUnit(ctx context.Context, u property.Unit, exec ...core.DBExecutor) (property.Unit, error) {
	q := `UPDATE units SET label = :label, bedrooms = :bedrooms, bathrooms = :bathrooms, monthly_rent = :monthly_rent,
		status = :status, updated_at = :updated_at
		WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, unitRow(u)); err != nil {
		return property.Unit{}, errors.Wrap(err, "updating unit")
	}
	return u, nil
}

func (repo propertyRepository) SetUnitStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) error {
	q := "UPDATE units SET status = ?, updated_at = ? WHERE id = ?"
	return execOne(ctx, repo.getExec(exec), property.ErrUnitNotFound, "setting unit status", q, status, core.NowFunc().UTC(), id)
}

func (repo propertyRepository) DeleteUnit(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return execOne(ctx, repo.getExec(exec), property.ErrUnitNotFound, "deleting unit", "DELETE FROM units WHERE id = ?", id)
}

func (repo propertyRepository) HasActiveLease(ctx context.Context, propertyID, unitID string, exec ...core.DBExecutor) (bool, error) {
	var w where
	w.eq("property_id", propertyID)
	w.eq("unit_id", unitID)
	w.in("status", []string{lease.StatusActive, lease.StatusPending})

	n, err := count(ctx, repo.getExec(exec), "SELECT COUNT(*) FROM leases"+w.String(), w.args...)
	if err != nil {
		return false, errors.Wrap(err, "checking leases")
	}
	return n > 0, nil
}

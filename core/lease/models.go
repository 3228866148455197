package lease

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
)

// Lease statuses
const (
	StatusPending    = "pending"
	StatusActive     = "active"
	StatusTerminated = "terminated"
	StatusExpired    = "expired"
)

var Statuses = []string{StatusPending, StatusActive, StatusTerminated, StatusExpired}

type Lease struct {
	ID           string          `json:"id"`
	UnitID       string          `json:"unit_id"`
	PropertyID   string          `json:"property_id"`
	LandlordID   string          `json:"landlord_id"`
	TenantID     string          `json:"tenant_id"`
	StartDate    time.Time       `json:"start_date"` // UTC midnight
	EndDate      null.Time       `json:"end_date"`   // UTC midnight, open-ended when null
	MonthlyRent  decimal.Decimal `json:"monthly_rent"`
	Deposit      decimal.Decimal `json:"deposit"`
	DueDay       int             `json:"due_day"` // 0: billing policy default
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at"` // UTC
	TerminatedAt null.Time       `json:"terminated_at"`
}

func (l Lease) IsActive() bool { return l.Status == StatusActive }

// IsOpen reports whether the lease still binds its unit.
func (l Lease) IsOpen() bool { return l.Status == StatusActive || l.Status == StatusPending }

// IsActiveDuring reports whether the lease is active and overlaps [start, end).
func (l Lease) IsActiveDuring(start, end time.Time) bool {
	if !l.IsActive() || !l.StartDate.Before(end) {
		return false
	}
	return !l.EndDate.Valid || !l.EndDate.Time.Before(start)
}

// HasEnded reports whether the lease end date is past at `now`.
func (l Lease) HasEnded(now time.Time) bool {
	return l.EndDate.Valid && now.After(l.EndDate.Time.AddDate(0, 0, 1))
}

type NewLease struct {
	UnitID      string           `json:"unit_id" validate:"required,uuid"`
	TenantID    string           `json:"tenant_id" validate:"required,uuid"`
	StartDate   time.Time        `json:"start_date" validate:"required"`
	EndDate     null.Time        `json:"end_date"`
	MonthlyRent *decimal.Decimal `json:"monthly_rent"` // defaults to the unit's rent
	Deposit     decimal.Decimal  `json:"deposit"`
	DueDay      int              `json:"due_day" validate:"gte=0,lte=31"`
}

func (nl *NewLease) Validate(validate *validator.Validate) error {
	if err := validate.Struct(nl); err != nil {
		return err
	}
	nl.StartDate = core.TruncateDay(nl.StartDate)
	if nl.EndDate.Valid {
		nl.EndDate.Time = core.TruncateDay(nl.EndDate.Time)
		if !nl.StartDate.Before(nl.EndDate.Time) {
			return core.NewFieldError("end_date", "end date must be after the start date")
		}
	}
	if nl.MonthlyRent != nil && !nl.MonthlyRent.IsPositive() {
		return core.NewFieldError("monthly_rent", "monthly rent must be greater than 0")
	}
	if nl.Deposit.IsNegative() {
		return core.NewFieldError("deposit", "deposit cannot be negative")
	}
	return nil
}

type QueryFilter struct {
	Statuses   []string `query:"status"`
	UnitID     string   `query:"unit_id"`
	PropertyID string   `query:"property_id"`
	TenantID   string   `query:"tenant_id"`
	LandlordID string   `query:"landlord_id"`
	IDs        []string `query:"-"`
	// EndBefore selects leases whose end date is before the given time.
	EndBefore time.Time `query:"-"`
	// StartBy selects leases starting on or before the given time.
	StartBy time.Time `query:"-"`
}

package property

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/nyumba/core"
)

// Unit statuses
const (
	UnitVacant      = "vacant"
	UnitOccupied    = "occupied"
	UnitMaintenance = "maintenance"
)

var UnitStatuses = []string{UnitVacant, UnitOccupied, UnitMaintenance}

type Property struct {
	ID          string    `json:"id"`
	LandlordID  string    `json:"landlord_id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

type Unit struct {
	ID          string          `json:"id"`
	PropertyID  string          `json:"property_id"`
	Label       string          `json:"label"`
	Bedrooms    int             `json:"bedrooms"`
	Bathrooms   int             `json:"bathrooms"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"` // UTC
	UpdatedAt   time.Time       `json:"updated_at"` // UTC

	// LandlordID is the owner of the unit's property; it is not stored on the unit.
	LandlordID string `json:"landlord_id"`
}

func (u Unit) IsVacant() bool { return u.Status == UnitVacant }

type NewProperty struct {
	LandlordID  string `json:"landlord_id" validate:"omitempty,uuid"` // admins only
	Name        string `json:"name" validate:"required,max=120"`
	Address     string `json:"address" validate:"max=255"`
	City        string `json:"city" validate:"max=120"`
	Description string `json:"description"`
}

func (np *NewProperty) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	np.Address = core.CleanString(np.Address)
	np.City = core.CleanString(np.City)
	np.Description = core.CleanString(np.Description)
	return validate.Struct(np)
}

type UpdateProperty struct {
	Name        *string `json:"name" validate:"omitempty,notblank,max=120"`
	Address     *string `json:"address" validate:"omitempty,max=255"`
	City        *string `json:"city" validate:"omitempty,max=120"`
	Description *string `json:"description"`
}

func (up *UpdateProperty) Validate(validate *validator.Validate) error {
	return validate.Struct(up)
}

func (up UpdateProperty) apply(p *Property) {
	if up.Name != nil {
		p.Name = core.CleanString(*up.Name)
	}
	if up.Address != nil {
		p.Address = core.CleanString(*up.Address)
	}
	if up.City != nil {
		p.City = core.CleanString(*up.City)
	}
	if up.Description != nil {
		p.Description = core.CleanString(*up.Description)
	}
}

type NewUnit struct {
	Label       string          `json:"label" validate:"required,max=60"`
	Bedrooms    int             `json:"bedrooms" validate:"gte=0"`
	Bathrooms   int             `json:"bathrooms" validate:"gte=0"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
}

func (nu *NewUnit) Validate(validate *validator.Validate) error {
	nu.Label = core.CleanString(nu.Label)
	if err := validate.Struct(nu); err != nil {
		return err
	}
	if !nu.MonthlyRent.IsPositive() {
		return core.NewFieldError("monthly_rent", "monthly rent must be greater than 0")
	}
	return nil
}

type UpdateUnit struct {
	Label       *string          `json:"label" validate:"omitempty,notblank,max=60"`
	Bedrooms    *int             `json:"bedrooms" validate:"omitempty,gte=0"`
	Bathrooms   *int             `json:"bathrooms" validate:"omitempty,gte=0"`
	MonthlyRent *decimal.Decimal `json:"monthly_rent"`
	// Status may only toggle between vacant and maintenance; occupancy follows leases.
	Status *string `json:"status" validate:"omitempty,oneof=vacant maintenance"`
}

func (uu *UpdateUnit) Validate(validate *validator.Validate, orig Unit) error {
	if err := validate.Struct(uu); err != nil {
		return err
	}
	if uu.MonthlyRent != nil && !uu.MonthlyRent.IsPositive() {
		return core.NewFieldError("monthly_rent", "monthly rent must be greater than 0")
	}
	if uu.Status != nil && orig.Status == UnitOccupied && *uu.Status != UnitOccupied {
		return core.NewFieldError("status", "an occupied unit is freed by ending its lease")
	}
	return nil
}

func (uu UpdateUnit) apply(u *Unit) {
	if uu.Label != nil {
		u.Label = core.CleanString(*uu.Label)
	}
	if uu.Bedrooms != nil {
		u.Bedrooms = *uu.Bedrooms
	}
	if uu.Bathrooms != nil {
		u.Bathrooms = *uu.Bathrooms
	}
	if uu.MonthlyRent != nil {
		u.MonthlyRent = *uu.MonthlyRent
	}
	if uu.Status != nil {
		u.Status = *uu.Status
	}
}

type QueryFilter struct {
	Search     string `query:"search"`
	City       string `query:"city"`
	LandlordID string `query:"landlord_id"`
	// TenantID restricts to properties where the tenant holds an active lease.
	TenantID string `query:"-"`
	ID       string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.City = core.CleanString(qf.City)
}

type UnitFilter struct {
	PropertyID string   `query:"property_id"`
	Statuses   []string `query:"status"`
	LandlordID string   `query:"-"`
	TenantID   string   `query:"-"`
	IDs        []string `query:"-"`
}

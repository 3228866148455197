package maintenance

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
)

// Request priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Request statuses
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
	StatusCancelled  = "cancelled"
)

var Statuses = []string{StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusCancelled}

type Request struct {
	ID          string    `json:"id"`
	UnitID      string    `json:"unit_id"`
	PropertyID  string    `json:"property_id"`
	TenantID    string    `json:"tenant_id"`
	LandlordID  string    `json:"landlord_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
	ResolvedAt  null.Time `json:"resolved_at"`
}

func (r Request) IsFinal() bool {
	return r.Status == StatusClosed || r.Status == StatusCancelled
}

type NewRequest struct {
	UnitID      string `json:"unit_id" validate:"required,uuid"`
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

func (nr *NewRequest) Validate(validate *validator.Validate) error {
	nr.Title = core.CleanString(nr.Title)
	nr.Description = core.CleanString(nr.Description)
	if nr.Priority == "" {
		nr.Priority = PriorityMedium
	}
	return validate.Struct(nr)
}

type UpdateStatus struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved closed cancelled"`
}

func (us *UpdateStatus) Validate(validate *validator.Validate) error {
	return validate.Struct(us)
}

type QueryFilter struct {
	Statuses   []string `query:"status"`
	Priorities []string `query:"priority"`
	UnitID     string   `query:"unit_id"`
	PropertyID string   `query:"property_id"`
	TenantID   string   `query:"-"`
	LandlordID string   `query:"-"`
	IDs        []string `query:"-"`
}

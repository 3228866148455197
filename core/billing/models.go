package billing

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
)

// Bill statuses
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusPaid      = "paid"
	StatusOverdue   = "overdue"
	StatusCancelled = "cancelled"
)

var Statuses = []string{StatusPending, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled}

// Line item kinds
const (
	ItemRent    = "rent"
	ItemLateFee = "late_fee"
	ItemUtility = "utility"
	ItemDeposit = "deposit"
	ItemOther   = "other"
)

// Bill sources
const (
	SourceMonthly = "monthly"
	SourceManual  = "manual"
)

// Payment methods
const (
	MethodCash         = "cash"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodMobileMoney  = "mobile_money"
	MethodCheck        = "check"
)

type LineItem struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type Bill struct {
	ID          string          `json:"id"`
	LeaseID     null.String     `json:"lease_id"`
	TenantID    string          `json:"tenant_id"`
	LandlordID  string          `json:"landlord_id"`
	UnitID      string          `json:"unit_id"`
	PropertyID  string          `json:"property_id"`
	Source      string          `json:"source"`
	PeriodStart time.Time       `json:"period_start"` // inclusive, UTC
	PeriodEnd   time.Time       `json:"period_end"`   // exclusive, UTC
	DueDate     time.Time       `json:"due_date"`
	Items       []LineItem      `json:"items"`
	Total       decimal.Decimal `json:"total"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Status      string          `json:"status"`
	PaidAt      null.Time       `json:"paid_at"`
	CreatedAt   time.Time       `json:"created_at"` // UTC
	UpdatedAt   time.Time       `json:"updated_at"` // UTC
}

// Balance is what remains to be paid; never negative.
func (b Bill) Balance() decimal.Decimal {
	bal := b.Total.Sub(b.AmountPaid)
	if bal.IsNegative() {
		return decimal.Zero
	}
	return bal
}

func (b Bill) IsCancelled() bool { return b.Status == StatusCancelled }
func (b Bill) IsSettled() bool   { return b.Status == StatusPaid || b.Status == StatusCancelled }

func (b Bill) HasLateFee() bool {
	for _, it := range b.Items {
		if it.Kind == ItemLateFee {
			return true
		}
	}
	return false
}

// RentAmount sums the rent line items.
func (b Bill) RentAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range b.Items {
		if it.Kind == ItemRent {
			sum = sum.Add(it.Amount)
		}
	}
	return sum
}

func (b Bill) LateFees() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range b.Items {
		if it.Kind == ItemLateFee {
			sum = sum.Add(it.Amount)
		}
	}
	return sum
}

type Payment struct {
	ID         string          `json:"id"`
	BillID     string          `json:"bill_id"`
	TenantID   string          `json:"tenant_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference"`
	PaidAt     time.Time       `json:"paid_at"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// validAmount accepts positive amounts in whole cents.
func validAmount(d decimal.Decimal) error {
	switch {
	case !d.IsPositive():
		return core.NewFieldError("amount", "amount must be greater than 0")
	case !d.Equal(d.Truncate(2)):
		return core.NewFieldError("amount", "amount cannot have more than 2 decimal places")
	}
	return nil
}

type NewLineItem struct {
	Kind        string          `json:"kind" validate:"required,oneof=rent late_fee utility deposit other"`
	Description string          `json:"description" validate:"max=255"`
	Amount      decimal.Decimal `json:"amount"`
}

func (ni *NewLineItem) Validate(validate *validator.Validate) error {
	ni.Description = core.CleanString(ni.Description)
	if err := validate.Struct(ni); err != nil {
		return err
	}
	return validAmount(ni.Amount)
}

// NewBill is a manual bill on a lease.
type NewBill struct {
	LeaseID     string        `json:"lease_id" validate:"required,uuid"`
	PeriodStart time.Time     `json:"period_start" validate:"required"`
	PeriodEnd   time.Time     `json:"period_end" validate:"required"`
	DueDate     time.Time     `json:"due_date"` // defaults to the policy due date of PeriodStart's month
	Items       []NewLineItem `json:"items" validate:"required,min=1"`
}

func (nb *NewBill) Validate(validate *validator.Validate) error {
	if err := validate.Struct(nb); err != nil {
		return err
	}
	nb.PeriodStart = core.TruncateDay(nb.PeriodStart)
	nb.PeriodEnd = core.TruncateDay(nb.PeriodEnd)
	if !nb.PeriodStart.Before(nb.PeriodEnd) {
		return core.NewFieldError("period_end", "period end must be after the period start")
	}
	if !nb.DueDate.IsZero() {
		nb.DueDate = core.TruncateDay(nb.DueDate)
	}
	for i := range nb.Items {
		if err := nb.Items[i].Validate(validate); err != nil {
			return err
		}
	}
	return nil
}

type NewPayment struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,oneof=cash bank_transfer card mobile_money check"`
	Reference string          `json:"reference" validate:"max=120"`
	PaidAt    time.Time       `json:"paid_at"` // defaults to now
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Reference = core.CleanString(np.Reference)
	if err := validate.Struct(np); err != nil {
		return err
	}
	return validAmount(np.Amount)
}

type QueryFilter struct {
	Statuses   []string `query:"status"`
	TenantID   string   `query:"tenant_id"`
	LandlordID string   `query:"landlord_id"`
	LeaseID    string   `query:"lease_id"`
	PropertyID string   `query:"property_id"`
	UnitID     string   `query:"unit_id"`
	Source     string   `query:"source"`
	IDs        []string `query:"-"`
	// DueFrom and DueTo bound the due date: [DueFrom, DueTo).
	DueFrom time.Time `query:"-"`
	DueTo   time.Time `query:"-"`
	// PeriodFrom and PeriodTo select bills whose period starts in [PeriodFrom, PeriodTo).
	PeriodFrom time.Time `query:"-"`
	PeriodTo   time.Time `query:"-"`
}

type PaymentFilter struct {
	BillID     string    `query:"bill_id"`
	TenantID   string    `query:"tenant_id"`
	LandlordID string    `query:"-"`
	PaidFrom   time.Time `query:"-"`
	PaidTo     time.Time `query:"-"`
}

// Stats are aggregates over a snapshot of units, leases and bills.
type Stats struct {
	TotalUnits     int             `json:"total_units"`
	OccupiedUnits  int             `json:"occupied_units"`
	OccupancyRate  decimal.Decimal `json:"occupancy_rate"` // percent
	ActiveLeases   int             `json:"active_leases"`
	BillCount      int             `json:"bill_count"`
	TotalBilled    decimal.Decimal `json:"total_billed"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	CollectionRate decimal.Decimal `json:"collection_rate"` // percent
	Outstanding    decimal.Decimal `json:"outstanding"`
	OverdueCount   int             `json:"overdue_count"`
	OverdueAmount  decimal.Decimal `json:"overdue_amount"`
	StatusCounts   map[string]int  `json:"status_counts"`
	AsOf           time.Time       `json:"as_of"`
}

type ReportRow struct {
	BillID      string          `json:"bill_id"`
	TenantID    string          `json:"tenant_id"`
	TenantName  string          `json:"tenant_name"`
	PropertyID  string          `json:"property_id"`
	UnitID      string          `json:"unit_id"`
	PeriodStart time.Time       `json:"period_start"`
	DueDate     time.Time       `json:"due_date"`
	Status      string          `json:"status"`
	Rent        decimal.Decimal `json:"rent"`
	LateFees    decimal.Decimal `json:"late_fees"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Balance     decimal.Decimal `json:"balance"`
}

type ReportTotals struct {
	Bills    int             `json:"bills"`
	Rent     decimal.Decimal `json:"rent"`
	LateFees decimal.Decimal `json:"late_fees"`
	Total    decimal.Decimal `json:"total"`
	Paid     decimal.Decimal `json:"paid"`
	Balance  decimal.Decimal `json:"balance"`
}

// Report is the monthly billing summary.
type Report struct {
	Month  time.Time    `json:"month"`
	Rows   []ReportRow  `json:"rows"`
	Totals ReportTotals `json:"totals"`
}

package billing

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/property"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the billing rules shared by every lease.
type Policy struct {
	DueDay         int // day of month; a lease's DueDay overrides it
	GraceDays      int
	LateFeeFlat    decimal.Decimal
	LateFeePercent decimal.Decimal // of the bill's rent lines
}

func decimalNotNegative(d decimal.Decimal, name string) vala.Checker {
	return func() (bool, string) {
		return !d.IsNegative(), name + " cannot be negative"
	}
}

func NewPolicy(conf core.BillingConfig) (Policy, error) {
	err := vala.BeginValidation().Validate(
		vala.GreaterThan(conf.DueDay, 0, "DueDay"),
		vala.Not(vala.GreaterThan(conf.DueDay, 31, "DueDay")),
		vala.GreaterThan(conf.GraceDays, -1, "GraceDays"),
		decimalNotNegative(conf.LateFeeFlat, "LateFeeFlat"),
		decimalNotNegative(conf.LateFeePercent, "LateFeePercent"),
	).Check()
	if err != nil {
		return Policy{}, errors.Wrap(err, "invalid billing policy")
	}
	return Policy{
		DueDay:         conf.DueDay,
		GraceDays:      conf.GraceDays,
		LateFeeFlat:    conf.LateFeeFlat,
		LateFeePercent: conf.LateFeePercent,
	}, nil
}

// Engine derives due dates, late fees, statuses and aggregates from bills already loaded in memory.
type Engine struct {
	Policy Policy
}

func NewEngine(p Policy) *Engine {
	return &Engine{Policy: p}
}

// MonthWindow returns the calendar month containing t: [first day, first day of next month), in UTC.
func MonthWindow(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// DueDate returns the due date in the month of `month` for the given day of month (0: policy default).
// Days past the end of the month clamp to its last day.
func (e *Engine) DueDate(month time.Time, day int) time.Time {
	if day <= 0 {
		day = e.Policy.DueDay
	}
	if day <= 0 {
		day = 1
	}
	start, end := MonthWindow(month)
	if last := end.AddDate(0, 0, -1).Day(); day > last {
		day = last
	}
	return start.AddDate(0, 0, day-1)
}

// IsOverdue reports whether the due day is over at `now`.
func IsOverdue(b Bill, now time.Time) bool {
	return !now.Before(b.DueDate.AddDate(0, 0, 1))
}

// LateFeeDue reports whether the grace window after the due date is over at `now`.
func (e *Engine) LateFeeDue(b Bill, now time.Time) bool {
	return !now.Before(b.DueDate.AddDate(0, 0, e.Policy.GraceDays+1))
}

// LateFeeAmount is the flat fee plus the percentage of the bill's rent, rounded to cents.
func (e *Engine) LateFeeAmount(b Bill) decimal.Decimal {
	pct := b.RentAmount().Mul(e.Policy.LateFeePercent).Div(hundred)
	return e.Policy.LateFeeFlat.Add(pct).Round(2)
}

// ApplyLateFee appends the late fee line to an unpaid bill past its grace window.
// A bill gets at most one late fee; it reports whether the bill changed.
func (e *Engine) ApplyLateFee(b *Bill, now time.Time) bool {
	Reconcile(b, now)
	if b.IsSettled() || b.HasLateFee() || !e.LateFeeDue(*b, now) {
		return false
	}
	fee := e.LateFeeAmount(*b)
	if !fee.IsPositive() {
		return false
	}

	b.Items = append(b.Items, LineItem{
		ID:          uuid.New().String(),
		Kind:        ItemLateFee,
		Description: "Late fee (due " + b.DueDate.Format("Jan 2, 2006") + ")",
		Amount:      fee,
	})
	Recompute(b)
	Reconcile(b, now)
	b.UpdatedAt = now.UTC()
	return true
}

// Recompute sets the bill total to the sum of its line items.
func Recompute(b *Bill) {
	total := decimal.Zero
	for _, it := range b.Items {
		total = total.Add(it.Amount)
	}
	b.Total = total
}

// Reconcile derives the bill status from its amounts and due date.
// Cancelled bills are left untouched.
func Reconcile(b *Bill, now time.Time) {
	if b.IsCancelled() {
		return
	}
	switch {
	case b.AmountPaid.GreaterThanOrEqual(b.Total):
		b.Status = StatusPaid
		if !b.PaidAt.Valid {
			b.PaidAt = null.TimeFrom(now.UTC())
		}
		return
	case IsOverdue(*b, now):
		b.Status = StatusOverdue
	case b.AmountPaid.IsPositive():
		b.Status = StatusPartial
	default:
		b.Status = StatusPending
	}
	b.PaidAt = null.Time{}
}

// PlanMonthlyBills returns the rent bills to create for the month of `month`, keyed by (tenant, month window):
// one bill per tenant with an active lease during the month, unless a bill of that tenant already starts in the window.
// A tenant holding several leases gets a single bill with a rent line per lease; the first lease (by start date) owns it.
func (e *Engine) PlanMonthlyBills(month time.Time, leases []lease.Lease, existing []Bill, now time.Time) []Bill {
	start, end := MonthWindow(month)
	billed := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.IsCancelled() || b.PeriodStart.Before(start) || !b.PeriodStart.Before(end) {
			continue
		}
		billed[b.TenantID] = true
	}

	active := make([]lease.Lease, 0, len(leases))
	for _, l := range leases {
		if l.IsActiveDuring(start, end) && !billed[l.TenantID] {
			active = append(active, l)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].StartDate.Equal(active[j].StartDate) {
			return active[i].StartDate.Before(active[j].StartDate)
		}
		return active[i].ID < active[j].ID
	})

	now = now.UTC()
	planned := make([]Bill, 0, len(active))
	byTenant := make(map[string]int, len(active))
	for _, l := range active {
		item := LineItem{
			ID:          uuid.New().String(),
			Kind:        ItemRent,
			Description: "Rent for " + start.Format("January 2006"),
			Amount:      l.MonthlyRent,
		}
		if i, ok := byTenant[l.TenantID]; ok {
			planned[i].Items = append(planned[i].Items, item)
			continue
		}
		byTenant[l.TenantID] = len(planned)
		planned = append(planned, Bill{
			ID:          uuid.New().String(),
			LeaseID:     null.StringFrom(l.ID),
			TenantID:    l.TenantID,
			LandlordID:  l.LandlordID,
			UnitID:      l.UnitID,
			PropertyID:  l.PropertyID,
			Source:      SourceMonthly,
			PeriodStart: start,
			PeriodEnd:   end,
			DueDate:     e.DueDate(start, l.DueDay),
			Items:       []LineItem{item},
			AmountPaid:  decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	for i := range planned {
		Recompute(&planned[i])
		Reconcile(&planned[i], now)
	}
	return planned
}

// rate returns num/den as a percentage rounded to 2 decimals; 0 when den is 0.
func rate(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Mul(hundred).Div(den).Round(2)
}

// ComputeStats aggregates a snapshot of units, leases and bills, as of `now`.
func ComputeStats(units []property.Unit, leases []lease.Lease, bills []Bill, now time.Time) Stats {
	st := Stats{
		TotalUnits:     len(units),
		TotalBilled:    decimal.Zero,
		TotalCollected: decimal.Zero,
		Outstanding:    decimal.Zero,
		OverdueAmount:  decimal.Zero,
		StatusCounts:   make(map[string]int, len(Statuses)),
		AsOf:           now.UTC(),
	}
	for _, s := range Statuses {
		st.StatusCounts[s] = 0
	}

	for _, u := range units {
		if u.Status == property.UnitOccupied {
			st.OccupiedUnits++
		}
	}
	for _, l := range leases {
		if l.IsActive() {
			st.ActiveLeases++
		}
	}

	for _, b := range bills {
		Reconcile(&b, now)
		st.StatusCounts[b.Status]++
		if b.IsCancelled() {
			continue
		}
		st.BillCount++
		st.TotalBilled = st.TotalBilled.Add(b.Total)
		st.TotalCollected = st.TotalCollected.Add(decimal.Min(b.AmountPaid, b.Total))
		st.Outstanding = st.Outstanding.Add(b.Balance())
		if b.Status == StatusOverdue {
			st.OverdueCount++
			st.OverdueAmount = st.OverdueAmount.Add(b.Balance())
		}
	}

	st.OccupancyRate = rate(decimal.NewFromInt(int64(st.OccupiedUnits)), decimal.NewFromInt(int64(st.TotalUnits)))
	st.CollectionRate = rate(st.TotalCollected, st.TotalBilled)
	return st
}

// Summarize builds the report of the bills whose period starts in the month of `month`.
// Cancelled bills are listed but left out of the totals.
func Summarize(month time.Time, bills []Bill, tenantNames map[string]string) Report {
	start, end := MonthWindow(month)
	rep := Report{
		Month: start,
		Rows:  make([]ReportRow, 0, len(bills)),
		Totals: ReportTotals{
			Rent:     decimal.Zero,
			LateFees: decimal.Zero,
			Total:    decimal.Zero,
			Paid:     decimal.Zero,
			Balance:  decimal.Zero,
		},
	}

	for _, b := range bills {
		if b.PeriodStart.Before(start) || !b.PeriodStart.Before(end) {
			continue
		}
		row := ReportRow{
			BillID:      b.ID,
			TenantID:    b.TenantID,
			TenantName:  tenantNames[b.TenantID],
			PropertyID:  b.PropertyID,
			UnitID:      b.UnitID,
			PeriodStart: b.PeriodStart,
			DueDate:     b.DueDate,
			Status:      b.Status,
			Rent:        b.RentAmount(),
			LateFees:    b.LateFees(),
			Total:       b.Total,
			Paid:        b.AmountPaid,
			Balance:     b.Balance(),
		}
		rep.Rows = append(rep.Rows, row)
		if b.IsCancelled() {
			continue
		}
		rep.Totals.Bills++
		rep.Totals.Rent = rep.Totals.Rent.Add(row.Rent)
		rep.Totals.LateFees = rep.Totals.LateFees.Add(row.LateFees)
		rep.Totals.Total = rep.Totals.Total.Add(row.Total)
		rep.Totals.Paid = rep.Totals.Paid.Add(row.Paid)
		rep.Totals.Balance = rep.Totals.Balance.Add(row.Balance)
	}

	sort.SliceStable(rep.Rows, func(i, j int) bool {
		if !rep.Rows[i].DueDate.Equal(rep.Rows[j].DueDate) {
			return rep.Rows[i].DueDate.Before(rep.Rows[j].DueDate)
		}
		return rep.Rows[i].TenantName < rep.Rows[j].TenantName
	})
	return rep
}

package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
)

const (
	billColumns = `id, lease_id, tenant_id, landlord_id, unit_id, property_id, source, period_start, period_end, due_date,
	total, amount_paid, status, paid_at, created_at, updated_at`
	paymentColumns = "id, bill_id, tenant_id, amount, method, reference, paid_at, recorded_by, created_at"
)

var billOrderings = map[string]string{
	"due_date":     "due_date",
	"period_start": "period_start",
	"total":        "total",
	"status":       "status",
	"created_at":   "created_at",
}

type billRow struct {
	ID          string          `db:"id"`
	LeaseID     null.String     `db:"lease_id"`
	TenantID    string          `db:"tenant_id"`
	LandlordID  string          `db:"landlord_id"`
	UnitID      string          `db:"unit_id"`
	PropertyID  string          `db:"property_id"`
	Source      string          `db:"source"`
	PeriodStart time.Time       `db:"period_start"`
	PeriodEnd   time.Time       `db:"period_end"`
	DueDate     time.Time       `db:"due_date"`
	Total       decimal.Decimal `db:"total"`
	AmountPaid  decimal.Decimal `db:"amount_paid"`
	Status      string          `db:"status"`
	PaidAt      null.Time       `db:"paid_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

type billItemRow struct {
	ID          string          `db:"id"`
	BillID      string          `db:"bill_id"`
	Position    int             `db:"position"`
	Kind        string          `db:"kind"`
	Description string          `db:"description"`
	Amount      decimal.Decimal `db:"amount"`
}

type paymentRow struct {
	ID         string          `db:"id"`
	BillID     string          `db:"bill_id"`
	TenantID   string          `db:"tenant_id"`
	Amount     decimal.Decimal `db:"amount"`
	Method     string          `db:"method"`
	Reference  string          `db:"reference"`
	PaidAt     time.Time       `db:"paid_at"`
	RecordedBy string          `db:"recorded_by"`
	CreatedAt  time.Time       `db:"created_at"`
}

func newBillRow(b billing.Bill) billRow {
	return billRow{
		ID:          b.ID,
		LeaseID:     b.LeaseID,
		TenantID:    b.TenantID,
		LandlordID:  b.LandlordID,
		UnitID:      b.UnitID,
		PropertyID:  b.PropertyID,
		Source:      b.Source,
		PeriodStart: b.PeriodStart.UTC(),
		PeriodEnd:   b.PeriodEnd.UTC(),
		DueDate:     b.DueDate.UTC(),
		Total:       b.Total,
		AmountPaid:  b.AmountPaid,
		Status:      b.Status,
		PaidAt:      utcNull(b.PaidAt),
		CreatedAt:   b.CreatedAt.UTC(),
		UpdatedAt:   b.UpdatedAt.UTC(),
	}
}

func (row billRow) bill(items []billItemRow) billing.Bill {
	b := billing.Bill{
		ID:          row.ID,
		LeaseID:     row.LeaseID,
		TenantID:    row.TenantID,
		LandlordID:  row.LandlordID,
		UnitID:      row.UnitID,
		PropertyID:  row.PropertyID,
		Source:      row.Source,
		PeriodStart: row.PeriodStart.UTC(),
		PeriodEnd:   row.PeriodEnd.UTC(),
		DueDate:     row.DueDate.UTC(),
		Items:       make([]billing.LineItem, 0, len(items)),
		Total:       row.Total,
		AmountPaid:  row.AmountPaid,
		Status:      row.Status,
		PaidAt:      utcNull(row.PaidAt),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	for _, it := range items {
		b.Items = append(b.Items, billing.LineItem{ID: it.ID, Kind: it.Kind, Description: it.Description, Amount: it.Amount})
	}
	return b
}

func (row paymentRow) payment() billing.Payment {
	p := billing.Payment(row)
	p.PaidAt = p.PaidAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p
}

type billingRepository struct {
	repository
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(exec core.DBExecutor) *billingRepository {
	return &billingRepository{repository{exec: exec}}
}

func (repo billingRepository) insertItems(ctx context.Context, exe core.DBExecutor, b billing.Bill) error {
	q := `INSERT INTO bill_items (id, bill_id, position, kind, description, amount)
		VALUES (:id, :bill_id, :position, :kind, :description, :amount)`
	for i, it := range b.Items {
		row := billItemRow{ID: it.ID, BillID: b.ID, Position: i, Kind: it.Kind, Description: it.Description, Amount: it.Amount}
		if _, err := sqlx.NamedExecContext(ctx, exe, q, row); err != nil {
			return err
		}
	}
	return nil
}

const insertBillQuery = `INSERT INTO bills (` + billColumns + `)
	VALUES (:id, :lease_id, :tenant_id, :landlord_id, :unit_id, :property_id, :source, :period_start, :period_end, :due_date,
		:total, :amount_paid, :status, :paid_at, :created_at, :updated_at)`

func (repo billingRepository) CreateBill(ctx context.Context, b billing.Bill, exec ...core.DBExecutor) (billing.Bill, error) {
	exe := repo.getExec(exec)
	if _, err := sqlx.NamedExecContext(ctx, exe, insertBillQuery, newBillRow(b)); err != nil {
		return billing.Bill{}, errors.Wrap(err, "inserting bill")
	}
	if err := repo.insertItems(ctx, exe, b); err != nil {
		return billing.Bill{}, errors.Wrap(err, "inserting bill items")
	}
	return b, nil
}

// CreateMonthlyBill inserts a monthly bill unless the tenant already has a live one for the same period,
// in which case it reports false and inserts nothing.
func (repo billingRepository) CreateMonthlyBill(ctx context.Context, b billing.Bill, exec ...core.DBExecutor) (bool, error) {
	exe := repo.getExec(exec)
	q := insertBillQuery + `
		ON CONFLICT (tenant_id, period_start) WHERE source = 'monthly' AND status <> 'cancelled' DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, exe, q, newBillRow(b))
	if err != nil {
		return false, errors.Wrap(err, "inserting bill")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "inserting bill")
	}
	if n == 0 {
		return false, nil
	}
	if err = repo.insertItems(ctx, exe, b); err != nil {
		return false, errors.Wrap(err, "inserting bill items")
	}
	return true, nil
}

// items loads the line items of the given bills, keyed by bill ID and in insertion order.
func (repo billingRepository) items(ctx context.Context, exe core.DBExecutor, billIDs []string) (map[string][]billItemRow, error) {
	byBill := make(map[string][]billItemRow, len(billIDs))
	if len(billIDs) == 0 {
		return byBill, nil
	}

	var w where
	w.in("bill_id", billIDs)
	var rows []billItemRow
	q := "SELECT id, bill_id, position, kind, description, amount FROM bill_items" + w.String() + " ORDER BY bill_id, position"
	if err := selectRows(ctx, exe, &rows, q, w.args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		byBill[row.BillID] = append(byBill[row.BillID], row)
	}
	return byBill, nil
}

func (repo billingRepository) QueryBills(ctx context.Context, filter *billing.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]billing.Bill, error) {
	exe := repo.getExec(exec)

	var w where
	if filter != nil {
		w.in("status", filter.Statuses)
		w.eq("tenant_id", filter.TenantID)
		w.eq("landlord_id", filter.LandlordID)
		w.eq("lease_id", filter.LeaseID)
		w.eq("property_id", filter.PropertyID)
		w.eq("unit_id", filter.UnitID)
		w.eq("source", filter.Source)
		w.in("id", filter.IDs)
		w.since("due_date", filter.DueFrom)
		w.before("due_date", filter.DueTo)
		w.since("period_start", filter.PeriodFrom)
		w.before("period_start", filter.PeriodTo)
	}

	q := "SELECT " + billColumns + " FROM bills" + w.String() + core.OrderByClause(ordering, billOrderings, "due_date DESC")
	var rows []billRow
	if err := selectRows(ctx, exe, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying bills")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := repo.items(ctx, exe, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying bill items")
	}

	bills := make([]billing.Bill, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, row.bill(items[row.ID]))
	}
	return bills, nil
}

func (repo billingRepository) GetBill(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Bill, error) {
	return repo.getBill(ctx, repo.getExec(exec), id, "")
}

// LockBill reads the bill and, on postgres, locks its row until the transaction ends.
// SQLite has no row locks; its writers are serialized by the database lock.
func (repo billingRepository) LockBill(ctx context.Context, id string, tx core.DBExecutor) (billing.Bill, error) {
	lock := ""
	if tx.DriverName() == "postgres" {
		lock = " FOR UPDATE"
	}
	return repo.getBill(ctx, tx, id, lock)
}

func (repo billingRepository) getBill(ctx context.Context, exe core.DBExecutor, id, suffix string) (billing.Bill, error) {
	var row billRow
	if err := getRow(ctx, exe, &row, "SELECT "+billColumns+" FROM bills WHERE id = ?"+suffix, id); err != nil {
		return billing.Bill{}, trapNoRowsErr(err, billing.ErrNotFound, "finding bill")
	}
	items, err := repo.items(ctx, exe, []string{id})
	if err != nil {
		return billing.Bill{}, errors.Wrap(err, "querying bill items")
	}
	return row.bill(items[id]), nil
}

func (repo billingRepository) updateBill(ctx context.Context, exe core.DBExecutor, b billing.Bill) error {
	q := `UPDATE bills SET due_date = :due_date, total = :total, amount_paid = :amount_paid, status = :status,
		paid_at = :paid_at, updated_at = :updated_at
		WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exe, q, newBillRow(b)); err != nil {
		return errors.Wrap(err, "updating bill")
	}
	if _, err := execQuery(ctx, exe, "DELETE FROM bill_items WHERE bill_id = ?", b.ID); err != nil {
		return errors.Wrap(err, "clearing bill items")
	}
	if err := repo.insertItems(ctx, exe, b); err != nil {
		return errors.Wrap(err, "inserting bill items")
	}
	return nil
}

// UpdateBill replaces the bill's line items; it opens its own transaction unless given one.
func (repo billingRepository) UpdateBill(ctx context.Context, b billing.Bill, exec ...core.DBExecutor) (billing.Bill, error) {
	exe := repo.getExec(exec)
	db, ok := exe.(core.DB)
	if !ok {
		return b, repo.updateBill(ctx, exe, b)
	}
	err := core.RunInTx(ctx, db, func(tx core.DBExecutor) error {
		return repo.updateBill(ctx, tx, b)
	})
	return b, err
}

func (repo billingRepository) CreatePayment(ctx context.Context, p billing.Payment, exec ...core.DBExecutor) (billing.Payment, error) {
	q := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (:id, :bill_id, :tenant_id, :amount, :method, :reference, :paid_at, :recorded_by, :created_at)`
	row := paymentRow(p)
	row.PaidAt = row.PaidAt.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, row); err != nil {
		return billing.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return row.payment(), nil
}

func (repo billingRepository) QueryPayments(ctx context.Context, filter *billing.PaymentFilter, exec ...core.DBExecutor) ([]billing.Payment, error) {
	var w where
	if filter != nil {
		w.eq("bill_id", filter.BillID)
		w.eq("tenant_id", filter.TenantID)
		if filter.LandlordID != "" {
			w.add("bill_id IN (SELECT id FROM bills WHERE landlord_id = ?)", filter.LandlordID)
		}
		w.since("paid_at", filter.PaidFrom)
		w.before("paid_at", filter.PaidTo)
	}

	var rows []paymentRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, "SELECT "+paymentColumns+" FROM payments"+w.String()+" ORDER BY paid_at DESC", w.args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}

	payments := make([]billing.Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, row.payment())
	}
	return payments, nil
}

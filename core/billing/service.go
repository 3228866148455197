package billing

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("bill")
	ErrBillCancelled    = errors.New("bill is cancelled")
	ErrBillHasPayments  = errors.New("a bill with payments cannot be cancelled")
	ErrPaymentExceeds   = errors.New("amount exceeds the bill balance")
	ErrNothingToPay     = errors.New("bill is already paid")
	ErrLeaseNotBillable = errors.New("lease is not active")
	ErrDueBeforePeriod  = errors.New("due date must not be before the period start")
)

type (
	Repository interface {
		// CreateBill inserts the bill and its line items.
		CreateBill(ctx context.Context, b Bill, exec ...core.DBExecutor) (Bill, error)
		// CreateMonthlyBill inserts a monthly bill unless the tenant already has a live one for its period; it reports whether it did.
		CreateMonthlyBill(ctx context.Context, b Bill, exec ...core.DBExecutor) (bool, error)
		QueryBills(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Bill, error)
		GetBill(ctx context.Context, id string, exec ...core.DBExecutor) (Bill, error)
		// LockBill reads the bill for an update within tx.
		LockBill(ctx context.Context, id string, tx core.DBExecutor) (Bill, error)
		// UpdateBill saves the bill amounts, status and line items.
		UpdateBill(ctx context.Context, b Bill, exec ...core.DBExecutor) (Bill, error)

		CreatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
		QueryPayments(ctx context.Context, filter *PaymentFilter, exec ...core.DBExecutor) ([]Payment, error)
	}

	Service interface {
		// GenerateMonthly creates the rent bills of the month containing `month`.
		GenerateMonthly(ctx context.Context, month time.Time) ([]Bill, error)
		// ApplyLateFees charges late fees on the bills past their grace window and refreshes stale statuses.
		ApplyLateFees(ctx context.Context, now time.Time) (int, error)

		Create(ctx context.Context, actor user.User, nb NewBill) (Bill, error)
		AddItem(ctx context.Context, actor user.User, b Bill, ni NewLineItem) (Bill, error)
		Cancel(ctx context.Context, actor user.User, b Bill) (Bill, error)
		RecordPayment(ctx context.Context, actor user.User, b Bill, np NewPayment) (Bill, Payment, error)

		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Bill, error)
		Get(ctx context.Context, actor user.User, id string) (Bill, error)
		Payments(ctx context.Context, actor user.User, filter *PaymentFilter) ([]Payment, error)

		Dashboard(ctx context.Context, actor user.User) (Stats, error)
		Report(ctx context.Context, actor user.User, month time.Time) (Report, error)
		ExportReport(ctx context.Context, actor user.User, month time.Time, w io.Writer) error
	}

	service struct {
		db       core.DB
		repo     Repository
		leaseSvc lease.Service
		propSvc  property.Service
		usrSvc   user.Service
		notifier notification.Notifier
		engine   *Engine
		currency string
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	leaseSvc lease.Service,
	propSvc property.Service,
	usrSvc user.Service,
	notifier notification.Notifier,
	engine *Engine,
	conf *core.Config,
) Service {
	return &service{
		db:       db,
		repo:     repo,
		leaseSvc: leaseSvc,
		propSvc:  propSvc,
		usrSvc:   usrSvc,
		notifier: notifier,
		engine:   engine,
		currency: conf.Billing.Currency,
	}
}

func (svc *service) money(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64()) + " " + svc.currency
}

func billLink(b Bill) string { return "/bills/" + b.ID }

func (svc *service) GenerateMonthly(ctx context.Context, month time.Time) ([]Bill, error) {
	start, end := MonthWindow(month)
	leases, err := svc.leaseSvc.ActiveDuring(ctx, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "loading leases")
	}

	var created []Bill
	err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		existing, err := svc.repo.QueryBills(ctx, &QueryFilter{PeriodFrom: start, PeriodTo: end}, nil, tx)
		if err != nil {
			return errors.Wrap(err, "loading bills")
		}

		planned := svc.engine.PlanMonthlyBills(start, leases, existing, core.NowFunc())
		created = make([]Bill, 0, len(planned))
		for _, b := range planned {
			// a concurrent run may have billed the tenant since the read above
			ok, err := svc.repo.CreateMonthlyBill(ctx, b, tx)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating bills")
	}
	if len(created) == 0 {
		return created, nil
	}

	notes := make([]notification.NewNotification, 0, len(created))
	for _, b := range created {
		notes = append(notes, notification.NewNotification{
			UserID: b.TenantID,
			Kind:   notification.KindBill,
			Title:  "Rent bill for " + b.PeriodStart.Format("January 2006"),
			Body: fmt.Sprintf("Your rent of %s is due on the %s (%s).",
				svc.money(b.Total), humanize.Ordinal(b.DueDate.Day()), b.DueDate.Format("Jan 2, 2006")),
			Link: billLink(b),
		})
	}
	svc.notifier.Notify(ctx, notes...)
	return created, nil
}

func (svc *service) ApplyLateFees(ctx context.Context, now time.Time) (int, error) {
	bills, err := svc.repo.QueryBills(ctx, &QueryFilter{
		Statuses: []string{StatusPending, StatusPartial, StatusOverdue},
		DueTo:    now,
	}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "loading bills")
	}

	charged := 0
	notes := make([]notification.NewNotification, 0)
	for _, b := range bills {
		var feeApplied bool
		err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
			var err error
			if b, err = svc.repo.LockBill(ctx, b.ID, tx); err != nil {
				return err
			}
			prevStatus := b.Status
			feeApplied = svc.engine.ApplyLateFee(&b, now)
			if !feeApplied && b.Status == prevStatus {
				return nil
			}
			b.UpdatedAt = now.UTC()
			_, err = svc.repo.UpdateBill(ctx, b, tx)
			return err
		})
		if err != nil {
			return charged, errors.Wrapf(err, "updating bill %s", b.ID)
		}
		if !feeApplied {
			continue
		}
		charged++
		notes = append(notes, notification.NewNotification{
			UserID: b.TenantID,
			Kind:   notification.KindBill,
			Title:  "Late fee charged",
			Body: fmt.Sprintf("A late fee of %s was added to your bill due %s. Balance: %s.",
				svc.money(b.LateFees()), humanize.Time(b.DueDate), svc.money(b.Balance())),
			Link: billLink(b),
		})
	}
	svc.notifier.Notify(ctx, notes...)
	return charged, nil
}

// updateLocked re-reads the bill inside a transaction, applies fn to the fresh copy and saves it.
// fn sees the committed state, so concurrent payments, fees and items are never overwritten.
func (svc *service) updateLocked(ctx context.Context, id string, fn func(b *Bill) error) (Bill, error) {
	var b Bill
	err := core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if b, err = svc.repo.LockBill(ctx, id, tx); err != nil {
			return err
		}
		if err = fn(&b); err != nil {
			return err
		}
		b, err = svc.repo.UpdateBill(ctx, b, tx)
		return err
	})
	return b, err
}

func (svc *service) Create(ctx context.Context, actor user.User, nb NewBill) (Bill, error) {
	l, err := svc.leaseSvc.Get(ctx, actor, nb.LeaseID)
	if err != nil {
		if core.IsNotFound(err) {
			return Bill{}, core.NewFieldError("lease_id", "lease not found")
		}
		return Bill{}, errors.Wrap(err, "finding lease")
	}
	if !property.CanManage(actor, l.LandlordID) {
		return Bill{}, core.ErrPermissionDenied
	}
	if !l.IsActive() {
		return Bill{}, core.NewFieldError("lease_id", ErrLeaseNotBillable.Error())
	}

	due := nb.DueDate
	if due.IsZero() {
		due = svc.engine.DueDate(nb.PeriodStart, l.DueDay)
	}
	if due.Before(nb.PeriodStart) {
		return Bill{}, core.NewFieldError("due_date", ErrDueBeforePeriod.Error())
	}

	now := core.NowFunc().UTC()
	b := Bill{
		ID:          uuid.New().String(),
		TenantID:    l.TenantID,
		LandlordID:  l.LandlordID,
		UnitID:      l.UnitID,
		PropertyID:  l.PropertyID,
		Source:      SourceManual,
		PeriodStart: nb.PeriodStart,
		PeriodEnd:   nb.PeriodEnd,
		DueDate:     due,
		Items:       make([]LineItem, 0, len(nb.Items)),
		AmountPaid:  decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.LeaseID.SetValid(l.ID)
	for _, ni := range nb.Items {
		b.Items = append(b.Items, LineItem{ID: uuid.New().String(), Kind: ni.Kind, Description: ni.Description, Amount: ni.Amount})
	}
	Recompute(&b)
	Reconcile(&b, now)

	if b, err = svc.repo.CreateBill(ctx, b); err != nil {
		return Bill{}, errors.Wrap(err, "creating bill")
	}
	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: b.TenantID,
		Kind:   notification.KindBill,
		Title:  "New bill",
		Body:   fmt.Sprintf("A bill of %s is due on %s.", svc.money(b.Total), b.DueDate.Format("Jan 2, 2006")),
		Link:   billLink(b),
	})
	return b, nil
}

func (svc *service) AddItem(ctx context.Context, actor user.User, b Bill, ni NewLineItem) (Bill, error) {
	if !property.CanManage(actor, b.LandlordID) {
		return Bill{}, core.ErrPermissionDenied
	}
	return svc.updateLocked(ctx, b.ID, func(b *Bill) error {
		if b.IsCancelled() {
			return core.NewValidationError(ErrBillCancelled)
		}
		if ni.Kind == ItemLateFee && b.HasLateFee() {
			return core.NewFieldError("kind", "bill already has a late fee")
		}

		now := core.NowFunc().UTC()
		b.Items = append(b.Items, LineItem{ID: uuid.New().String(), Kind: ni.Kind, Description: ni.Description, Amount: ni.Amount})
		Recompute(b)
		Reconcile(b, now)
		b.UpdatedAt = now
		return nil
	})
}

func (svc *service) Cancel(ctx context.Context, actor user.User, b Bill) (Bill, error) {
	if !property.CanManage(actor, b.LandlordID) {
		return Bill{}, core.ErrPermissionDenied
	}
	b, err := svc.updateLocked(ctx, b.ID, func(b *Bill) error {
		if b.IsCancelled() {
			return core.NewValidationError(ErrBillCancelled)
		}
		if b.AmountPaid.IsPositive() {
			return core.NewValidationError(ErrBillHasPayments)
		}
		b.Status = StatusCancelled
		b.UpdatedAt = core.NowFunc().UTC()
		return nil
	})
	if err != nil {
		return Bill{}, errors.Wrap(err, "cancelling bill")
	}
	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: b.TenantID,
		Kind:   notification.KindBill,
		Title:  "Bill cancelled",
		Body:   fmt.Sprintf("Your bill of %s due on %s was cancelled.", svc.money(b.Total), b.DueDate.Format("Jan 2, 2006")),
		Link:   billLink(b),
	})
	return b, nil
}

func (svc *service) RecordPayment(ctx context.Context, actor user.User, b Bill, np NewPayment) (Bill, Payment, error) {
	if !property.CanManage(actor, b.LandlordID) {
		return Bill{}, Payment{}, core.ErrPermissionDenied
	}
	now := core.NowFunc().UTC()
	paidAt := np.PaidAt.UTC()
	if np.PaidAt.IsZero() {
		paidAt = now
	}
	p := Payment{
		ID:         uuid.New().String(),
		BillID:     b.ID,
		TenantID:   b.TenantID,
		Amount:     np.Amount,
		Method:     np.Method,
		Reference:  np.Reference,
		PaidAt:     paidAt,
		RecordedBy: actor.ID,
		CreatedAt:  now,
	}

	err := core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if b, err = svc.repo.LockBill(ctx, b.ID, tx); err != nil {
			return err
		}
		Reconcile(&b, now)
		switch {
		case b.IsCancelled():
			return core.NewValidationError(ErrBillCancelled)
		case !b.Balance().IsPositive():
			return core.NewValidationError(ErrNothingToPay)
		case np.Amount.GreaterThan(b.Balance()):
			return core.NewFieldError("amount", ErrPaymentExceeds.Error()+" ("+b.Balance().StringFixed(2)+")")
		}

		b.AmountPaid = b.AmountPaid.Add(np.Amount)
		Reconcile(&b, now)
		if b.Status == StatusPaid {
			b.PaidAt.SetValid(paidAt)
		}
		b.UpdatedAt = now

		if p, err = svc.repo.CreatePayment(ctx, p, tx); err != nil {
			return err
		}
		b, err = svc.repo.UpdateBill(ctx, b, tx)
		return err
	})
	if err != nil {
		return Bill{}, Payment{}, errors.Wrap(err, "recording payment")
	}

	body := fmt.Sprintf("We received your payment of %s.", svc.money(p.Amount))
	if b.Status == StatusPaid {
		body += " Your bill is fully paid."
	} else {
		body += " Remaining balance: " + svc.money(b.Balance()) + "."
	}
	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: b.TenantID,
		Kind:   notification.KindPayment,
		Title:  "Payment received",
		Body:   body,
		Link:   billLink(b),
	})
	return b, p, nil
}

func (svc *service) scope(actor user.User, filter *QueryFilter) *QueryFilter {
	if filter == nil {
		filter = new(QueryFilter)
	}
	switch {
	case actor.IsAdmin():
	case actor.IsLandlord():
		filter.LandlordID = actor.ID
	default:
		filter.TenantID = actor.ID
	}
	return filter
}

// Query returns the visible bills with their statuses reconciled as of now.
// Stored statuses go stale as due dates pass, so the status filter applies to the reconciled ones.
func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Bill, error) {
	filter = svc.scope(actor, filter)
	statuses := filter.Statuses
	dbFilter := *filter
	dbFilter.Statuses = nil

	bills, err := svc.repo.QueryBills(ctx, &dbFilter, ordering)
	if err != nil {
		return nil, err
	}
	now := core.NowFunc()
	kept := bills[:0]
	for _, b := range bills {
		Reconcile(&b, now)
		if len(statuses) == 0 || core.StringInSlice(b.Status, statuses) {
			kept = append(kept, b)
		}
	}
	return kept, nil
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Bill, error) {
	b, err := svc.repo.GetBill(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	if !(actor.IsAdmin() || actor.ID == b.LandlordID || actor.ID == b.TenantID) {
		return Bill{}, ErrNotFound
	}
	Reconcile(&b, core.NowFunc())
	return b, nil
}

func (svc *service) Payments(ctx context.Context, actor user.User, filter *PaymentFilter) ([]Payment, error) {
	if filter == nil {
		filter = new(PaymentFilter)
	}
	switch {
	case actor.IsAdmin():
	case actor.IsLandlord():
		filter.LandlordID = actor.ID
	default:
		filter.TenantID = actor.ID
	}
	return svc.repo.QueryPayments(ctx, filter)
}

// Dashboard loads a snapshot of the visible units, leases and bills and aggregates it.
func (svc *service) Dashboard(ctx context.Context, actor user.User) (Stats, error) {
	var (
		units  []property.Unit
		leases []lease.Lease
		bills  []Bill
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		units, err = svc.propSvc.QueryUnits(gctx, actor, nil, nil)
		return errors.Wrap(err, "loading units")
	})
	g.Go(func() error {
		var err error
		leases, err = svc.leaseSvc.Query(gctx, actor, &lease.QueryFilter{Statuses: []string{lease.StatusActive}}, nil)
		return errors.Wrap(err, "loading leases")
	})
	g.Go(func() error {
		var err error
		bills, err = svc.repo.QueryBills(gctx, svc.scope(actor, nil), nil)
		return errors.Wrap(err, "loading bills")
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return ComputeStats(units, leases, bills, core.NowFunc()), nil
}

func (svc *service) Report(ctx context.Context, actor user.User, month time.Time) (Report, error) {
	start, end := MonthWindow(month)
	bills, err := svc.Query(ctx, actor, &QueryFilter{PeriodFrom: start, PeriodTo: end}, nil)
	if err != nil {
		return Report{}, errors.Wrap(err, "loading bills")
	}

	names := make(map[string]string)
	for _, b := range bills {
		if _, ok := names[b.TenantID]; ok {
			continue
		}
		usr, err := svc.usrSvc.GetByID(ctx, b.TenantID)
		switch {
		case err == nil:
			names[b.TenantID] = usr.DisplayName()
		case errors.Cause(err) == user.ErrNotFound:
			names[b.TenantID] = ""
		default:
			return Report{}, errors.Wrap(err, "loading tenant")
		}
	}
	return Summarize(start, bills, names), nil
}

func (svc *service) ExportReport(ctx context.Context, actor user.User, month time.Time, w io.Writer) error {
	rep, err := svc.Report(ctx, actor, month)
	if err != nil {
		return err
	}
	return rep.WriteXLSX(w)
}

package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("lease")
	ErrUnitNotVacant  = errors.New("unit is not vacant")
	ErrNotTerminable  = errors.New("only pending or active leases can be terminated")
	ErrTenantNotFound = errors.New("tenant not found")
)

type (
	Repository interface {
		CreateLease(ctx context.Context, l Lease, exec ...core.DBExecutor) (Lease, error)
		QueryLeases(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Lease, error)
		GetLease(ctx context.Context, id string, exec ...core.DBExecutor) (Lease, error)
		UpdateLease(ctx context.Context, l Lease, exec ...core.DBExecutor) (Lease, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, nl NewLease) (Lease, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Lease, error)
		Get(ctx context.Context, actor user.User, id string) (Lease, error)
		Terminate(ctx context.Context, actor user.User, l Lease) (Lease, error)
		// ActiveDuring returns the active leases overlapping [start, end).
		ActiveDuring(ctx context.Context, start, end time.Time) ([]Lease, error)
		// ActivateStarted activates the pending leases whose start date is reached.
		ActivateStarted(ctx context.Context, now time.Time) (int, error)
		// ExpireEnded expires the active leases whose end date is past and frees their units.
		ExpireEnded(ctx context.Context, now time.Time) (int, error)
	}

	service struct {
		db       core.DB
		repo     Repository
		propRepo property.Repository
		propSvc  property.Service
		usrSvc   user.Service
		notifier notification.Notifier
		dueDay   int
		currency string
	}
)

var _ Service = (*service)(nil)

func NewService(
	db core.DB,
	repo Repository,
	propRepo property.Repository,
	propSvc property.Service,
	usrSvc user.Service,
	notifier notification.Notifier,
	conf *core.Config,
) Service {
	return &service{
		db:       db,
		repo:     repo,
		propRepo: propRepo,
		propSvc:  propSvc,
		usrSvc:   usrSvc,
		notifier: notifier,
		dueDay:   conf.Billing.DueDay,
		currency: conf.Billing.Currency,
	}
}

func (svc *service) Create(ctx context.Context, actor user.User, nl NewLease) (Lease, error) {
	unit, err := svc.propSvc.GetUnit(ctx, actor, nl.UnitID)
	if err != nil {
		if core.IsNotFound(err) {
			return Lease{}, core.NewFieldError("unit_id", "unit not found")
		}
		return Lease{}, errors.Wrap(err, "finding unit")
	}
	if !property.CanManage(actor, unit.LandlordID) {
		return Lease{}, core.ErrPermissionDenied
	}

	busy, err := svc.propRepo.HasActiveLease(ctx, unit.PropertyID, unit.ID)
	if err != nil {
		return Lease{}, errors.Wrap(err, "checking leases")
	}
	if busy || !unit.IsVacant() {
		return Lease{}, core.NewValidationError(ErrUnitNotVacant, core.FieldError{Field: "unit_id", Error: ErrUnitNotVacant.Error()})
	}

	tenant, err := svc.usrSvc.GetTenant(ctx, nl.TenantID)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrNotFound:
			return Lease{}, core.NewFieldError("tenant_id", ErrTenantNotFound.Error())
		case user.ErrNotTenant:
			return Lease{}, core.NewFieldError("tenant_id", user.ErrNotTenant.Error())
		}
		return Lease{}, errors.Wrap(err, "finding tenant")
	}

	now := core.NowFunc().UTC()
	l := Lease{
		ID:          uuid.New().String(),
		UnitID:      unit.ID,
		PropertyID:  unit.PropertyID,
		LandlordID:  unit.LandlordID,
		TenantID:    tenant.ID,
		StartDate:   nl.StartDate,
		EndDate:     nl.EndDate,
		MonthlyRent: unit.MonthlyRent,
		Deposit:     nl.Deposit,
		DueDay:      nl.DueDay,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if nl.MonthlyRent != nil {
		l.MonthlyRent = *nl.MonthlyRent
	}
	if !l.StartDate.After(now) {
		l.Status = StatusActive
	}
	if l.HasEnded(now) {
		return Lease{}, core.NewFieldError("end_date", "lease has already ended")
	}

	err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if l, err = svc.repo.CreateLease(ctx, l, tx); err != nil {
			return err
		}
		if l.IsActive() {
			return svc.propRepo.SetUnitStatus(ctx, l.UnitID, property.UnitOccupied, tx)
		}
		return nil
	})
	if err != nil {
		return Lease{}, errors.Wrap(err, "creating lease")
	}

	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: l.TenantID,
		Kind:   notification.KindLease,
		Title:  "New lease for unit " + unit.Label,
		Body: fmt.Sprintf(
			"Your lease starts on %s. Rent of %s %s is due on the %s of each month.",
			l.StartDate.Format("Jan 2, 2006"), l.MonthlyRent.StringFixed(2), svc.currency, humanize.Ordinal(svc.effectiveDueDay(l)),
		),
		Link: "/leases/" + l.ID,
	})
	return l, nil
}

func (svc *service) effectiveDueDay(l Lease) int {
	if l.DueDay > 0 {
		return l.DueDay
	}
	if svc.dueDay > 0 {
		return svc.dueDay
	}
	return 1
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

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Lease, error) {
	return svc.repo.QueryLeases(ctx, svc.scope(actor, filter), ordering)
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Lease, error) {
	l, err := svc.repo.GetLease(ctx, id)
	if err != nil {
		return Lease{}, err
	}
	if actor.IsAdmin() || actor.ID == l.LandlordID || actor.ID == l.TenantID {
		return l, nil
	}
	return Lease{}, ErrNotFound
}

func (svc *service) Terminate(ctx context.Context, actor user.User, l Lease) (Lease, error) {
	if !property.CanManage(actor, l.LandlordID) {
		return Lease{}, core.ErrPermissionDenied
	}
	if !l.IsOpen() {
		return Lease{}, core.NewValidationError(ErrNotTerminable)
	}

	now := core.NowFunc().UTC()
	wasActive := l.IsActive()
	l.Status = StatusTerminated
	l.TerminatedAt.SetValid(now)
	l.UpdatedAt = now

	err := core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		if l, err = svc.repo.UpdateLease(ctx, l, tx); err != nil {
			return err
		}
		if wasActive {
			return svc.propRepo.SetUnitStatus(ctx, l.UnitID, property.UnitVacant, tx)
		}
		return nil
	})
	if err != nil {
		return Lease{}, errors.Wrap(err, "terminating lease")
	}

	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: l.TenantID,
		Kind:   notification.KindLease,
		Title:  "Lease terminated",
		Body:   "Your lease was terminated on " + now.Format("Jan 2, 2006") + ".",
		Link:   "/leases/" + l.ID,
	})
	return l, nil
}

func (svc *service) ActiveDuring(ctx context.Context, start, end time.Time) ([]Lease, error) {
	leases, err := svc.repo.QueryLeases(ctx, &QueryFilter{Statuses: []string{StatusActive}, StartBy: end}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying leases")
	}
	res := make([]Lease, 0, len(leases))
	for _, l := range leases {
		if l.IsActiveDuring(start, end) {
			res = append(res, l)
		}
	}
	return res, nil
}

func (svc *service) ActivateStarted(ctx context.Context, now time.Time) (int, error) {
	leases, err := svc.repo.QueryLeases(ctx, &QueryFilter{Statuses: []string{StatusPending}, StartBy: now}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying leases")
	}

	n := 0
	for _, l := range leases {
		if l.StartDate.After(now) {
			continue
		}
		l.Status = StatusActive
		l.UpdatedAt = now.UTC()
		err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
			if _, err := svc.repo.UpdateLease(ctx, l, tx); err != nil {
				return err
			}
			return svc.propRepo.SetUnitStatus(ctx, l.UnitID, property.UnitOccupied, tx)
		})
		if err != nil {
			return n, errors.Wrapf(err, "activating lease %s", l.ID)
		}
		n++
	}
	return n, nil
}

func (svc *service) ExpireEnded(ctx context.Context, now time.Time) (int, error) {
	leases, err := svc.repo.QueryLeases(ctx, &QueryFilter{Statuses: []string{StatusActive}, EndBefore: core.TruncateDay(now)}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying leases")
	}

	n := 0
	for _, l := range leases {
		if !l.HasEnded(now) {
			continue
		}
		l.Status = StatusExpired
		l.UpdatedAt = now.UTC()
		err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
			if _, err := svc.repo.UpdateLease(ctx, l, tx); err != nil {
				return err
			}
			return svc.propRepo.SetUnitStatus(ctx, l.UnitID, property.UnitVacant, tx)
		})
		if err != nil {
			return n, errors.Wrapf(err, "expiring lease %s", l.ID)
		}
		svc.notifier.Notify(ctx, notification.NewNotification{
			UserID: l.TenantID,
			Kind:   notification.KindLease,
			Title:  "Lease expired",
			Body:   "Your lease ended on " + l.EndDate.Time.Format("Jan 2, 2006") + ".",
			Link:   "/leases/" + l.ID,
		})
		n++
	}
	return n, nil
}

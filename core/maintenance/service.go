package maintenance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("maintenance request")
	ErrNoActiveLease     = errors.New("you have no active lease on this unit")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type (
	Repository interface {
		CreateRequest(ctx context.Context, r Request, exec ...core.DBExecutor) (Request, error)
		QueryRequests(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Request, error)
		GetRequest(ctx context.Context, id string, exec ...core.DBExecutor) (Request, error)
		UpdateRequest(ctx context.Context, r Request, exec ...core.DBExecutor) (Request, error)
	}

	Service interface {
		// Open files a request on a unit the tenant currently leases.
		Open(ctx context.Context, actor user.User, nr NewRequest) (Request, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Request, error)
		Get(ctx context.Context, actor user.User, id string) (Request, error)
		UpdateStatus(ctx context.Context, actor user.User, r Request, status string) (Request, error)
	}

	service struct {
		repo     Repository
		leaseSvc lease.Service
		notifier notification.Notifier
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, leaseSvc lease.Service, notifier notification.Notifier) Service {
	return &service{repo: repo, leaseSvc: leaseSvc, notifier: notifier}
}

func requestLink(r Request) string { return "/maintenance/" + r.ID }

func (svc *service) Open(ctx context.Context, actor user.User, nr NewRequest) (Request, error) {
	if !actor.IsTenant() {
		return Request{}, core.ErrPermissionDenied
	}
	leases, err := svc.leaseSvc.Query(ctx, actor, &lease.QueryFilter{
		UnitID:   nr.UnitID,
		TenantID: actor.ID,
		Statuses: []string{lease.StatusActive},
	}, nil)
	if err != nil {
		return Request{}, errors.Wrap(err, "finding lease")
	}
	if len(leases) == 0 {
		return Request{}, core.NewFieldError("unit_id", ErrNoActiveLease.Error())
	}
	l := leases[0]

	now := core.NowFunc().UTC()
	r, err := svc.repo.CreateRequest(ctx, Request{
		ID:          uuid.New().String(),
		UnitID:      l.UnitID,
		PropertyID:  l.PropertyID,
		TenantID:    actor.ID,
		LandlordID:  l.LandlordID,
		Title:       nr.Title,
		Description: nr.Description,
		Priority:    nr.Priority,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Request{}, errors.Wrap(err, "creating request")
	}

	title := "New maintenance request"
	if r.Priority == PriorityUrgent {
		title = "Urgent maintenance request"
	}
	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: r.LandlordID,
		Kind:   notification.KindMaintenance,
		Title:  title,
		Body:   actor.DisplayName() + ": " + r.Title,
		Link:   requestLink(r),
	})
	return r, nil
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

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Request, error) {
	return svc.repo.QueryRequests(ctx, svc.scope(actor, filter), ordering)
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Request, error) {
	r, err := svc.repo.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if side(actor, r) == "" {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (svc *service) UpdateStatus(ctx context.Context, actor user.User, r Request, status string) (Request, error) {
	if side(actor, r) == "" {
		return Request{}, ErrNotFound
	}
	if !IsValidTransition(r.Status, status) {
		msg := ErrInvalidTransition.Error() + ": " + r.Status + " to " + status
		return Request{}, core.NewValidationError(ErrInvalidTransition, core.FieldError{Field: "status", Error: msg})
	}
	if !CanTransition(actor, r, status) {
		return Request{}, core.ErrPermissionDenied
	}

	now := core.NowFunc().UTC()
	r.Status = status
	r.UpdatedAt = now
	switch status {
	case StatusResolved:
		r.ResolvedAt.SetValid(now)
	case StatusInProgress:
		r.ResolvedAt.Valid = false
	}
	r, err := svc.repo.UpdateRequest(ctx, r)
	if err != nil {
		return Request{}, errors.Wrap(err, "updating request")
	}

	notify := r.TenantID
	if actor.ID == r.TenantID {
		notify = r.LandlordID
	}
	svc.notifier.Notify(ctx, notification.NewNotification{
		UserID: notify,
		Kind:   notification.KindMaintenance,
		Title:  "Maintenance request " + strings.ReplaceAll(status, "_", " "),
		Body:   r.Title,
		Link:   requestLink(r),
	})
	return r, nil
}

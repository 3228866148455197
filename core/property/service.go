package property

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound     = core.NewNotFoundError("property")
	ErrUnitNotFound = core.NewNotFoundError("unit")
	ErrHasLease     = errors.New("cannot delete while a lease is active")
)

type (
	Repository interface {
		CreateProperty(ctx context.Context, p Property, exec ...core.DBExecutor) (Property, error)
		QueryProperties(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Property, error)
		GetProperty(ctx context.Context, id string, exec ...core.DBExecutor) (Property, error)
		UpdateProperty(ctx context.Context, p Property, exec ...core.DBExecutor) (Property, error)
		DeleteProperty(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateUnit(ctx context.Context, u Unit, exec ...core.DBExecutor) (Unit, error)
		QueryUnits(ctx context.Context, filter *UnitFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Unit, error)
		GetUnit(ctx context.Context, id string, exec ...core.DBExecutor) (Unit, error)
		UpdateUnit(ctx context.Context, u Unit, exec ...core.DBExecutor) (Unit, error)
		SetUnitStatus(ctx context.Context, id, status string, exec ...core.DBExecutor) error
		DeleteUnit(ctx context.Context, id string, exec ...core.DBExecutor) error

		// HasActiveLease reports whether an active or pending lease exists on the property (or on the unit when unitID is set).
		HasActiveLease(ctx context.Context, propertyID, unitID string, exec ...core.DBExecutor) (bool, error)
	}

	Service interface {
		Create(ctx context.Context, actor user.User, np NewProperty) (Property, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Property, error)
		Get(ctx context.Context, actor user.User, id string) (Property, error)
		Update(ctx context.Context, actor user.User, p Property, up UpdateProperty) (Property, error)
		Delete(ctx context.Context, actor user.User, p Property) error

		CreateUnit(ctx context.Context, actor user.User, p Property, nu NewUnit) (Unit, error)
		QueryUnits(ctx context.Context, actor user.User, filter *UnitFilter, ordering []core.DBOrdering) ([]Unit, error)
		GetUnit(ctx context.Context, actor user.User, id string) (Unit, error)
		UpdateUnit(ctx context.Context, actor user.User, u Unit, uu UpdateUnit) (Unit, error)
		DeleteUnit(ctx context.Context, actor user.User, u Unit) error
	}

	service struct {
		repo   Repository
		usrSvc user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service) Service {
	return &service{repo: repo, usrSvc: usrSvc}
}

// CanManage reports whether the user may modify the property and its units.
func CanManage(actor user.User, landlordID string) bool {
	return actor.IsAdmin() || (actor.IsLandlord() && actor.ID == landlordID)
}

func (svc *service) Create(ctx context.Context, actor user.User, np NewProperty) (Property, error) {
	landlordID := actor.ID
	switch {
	case actor.IsAdmin() && np.LandlordID != "":
		landlord, err := svc.usrSvc.GetByID(ctx, np.LandlordID)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return Property{}, core.NewFieldError("landlord_id", "landlord not found")
			}
			return Property{}, errors.Wrap(err, "finding landlord")
		}
		if !landlord.IsLandlord() {
			return Property{}, core.NewFieldError("landlord_id", "user is not a landlord")
		}
		landlordID = landlord.ID
	case !actor.IsLandlord():
		return Property{}, core.ErrPermissionDenied
	}

	now := core.NowFunc().UTC()
	return svc.repo.CreateProperty(ctx, Property{
		ID:          uuid.New().String(),
		LandlordID:  landlordID,
		Name:        np.Name,
		Address:     np.Address,
		City:        np.City,
		Description: np.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// scope restricts a filter to what the acting user may see.
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

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Property, error) {
	return svc.repo.QueryProperties(ctx, svc.scope(actor, filter), ordering)
}

func (svc *service) Get(ctx context.Context, actor user.User, id string) (Property, error) {
	if actor.IsAdmin() {
		return svc.repo.GetProperty(ctx, id)
	}
	filter := svc.scope(actor, &QueryFilter{ID: id})
	props, err := svc.repo.QueryProperties(ctx, filter, nil)
	if err != nil {
		return Property{}, errors.Wrap(err, "querying properties")
	}
	if len(props) == 0 {
		return Property{}, ErrNotFound
	}
	return props[0], nil
}

func (svc *service) Update(ctx context.Context, actor user.User, p Property, up UpdateProperty) (Property, error) {
	if !CanManage(actor, p.LandlordID) {
		return Property{}, core.ErrPermissionDenied
	}
	up.apply(&p)
	p.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateProperty(ctx, p)
}

func (svc *service) Delete(ctx context.Context, actor user.User, p Property) error {
	if !CanManage(actor, p.LandlordID) {
		return core.ErrPermissionDenied
	}
	busy, err := svc.repo.HasActiveLease(ctx, p.ID, "")
	if err != nil {
		return errors.Wrap(err, "checking leases")
	}
	if busy {
		return core.NewValidationError(ErrHasLease)
	}
	return svc.repo.DeleteProperty(ctx, p.ID)
}

func (svc *service) CreateUnit(ctx context.Context, actor user.User, p Property, nu NewUnit) (Unit, error) {
	if !CanManage(actor, p.LandlordID) {
		return Unit{}, core.ErrPermissionDenied
	}
	now := core.NowFunc().UTC()
	u, err := svc.repo.CreateUnit(ctx, Unit{
		ID:          uuid.New().String(),
		PropertyID:  p.ID,
		Label:       nu.Label,
		Bedrooms:    nu.Bedrooms,
		Bathrooms:   nu.Bathrooms,
		MonthlyRent: nu.MonthlyRent,
		Status:      UnitVacant,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Unit{}, err
	}
	u.LandlordID = p.LandlordID
	return u, nil
}

func (svc *service) scopeUnits(actor user.User, filter *UnitFilter) *UnitFilter {
	if filter == nil {
		filter = new(UnitFilter)
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

func (svc *service) QueryUnits(ctx context.Context, actor user.User, filter *UnitFilter, ordering []core.DBOrdering) ([]Unit, error) {
	return svc.repo.QueryUnits(ctx, svc.scopeUnits(actor, filter), ordering)
}

func (svc *service) GetUnit(ctx context.Context, actor user.User, id string) (Unit, error) {
	if actor.IsAdmin() {
		return svc.repo.GetUnit(ctx, id)
	}
	filter := svc.scopeUnits(actor, &UnitFilter{IDs: []string{id}})
	units, err := svc.repo.QueryUnits(ctx, filter, nil)
	if err != nil {
		return Unit{}, errors.Wrap(err, "querying units")
	}
	if len(units) == 0 {
		return Unit{}, ErrUnitNotFound
	}
	return units[0], nil
}

func (svc *service) UpdateUnit(ctx context.Context, actor user.User, u Unit, uu UpdateUnit) (Unit, error) {
	if !CanManage(actor, u.LandlordID) {
		return Unit{}, core.ErrPermissionDenied
	}
	uu.apply(&u)
	u.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateUnit(ctx, u)
}

func (svc *service) DeleteUnit(ctx context.Context, actor user.User, u Unit) error {
	if !CanManage(actor, u.LandlordID) {
		return core.ErrPermissionDenied
	}
	busy, err := svc.repo.HasActiveLease(ctx, u.PropertyID, u.ID)
	if err != nil {
		return errors.Wrap(err, "checking leases")
	}
	if busy {
		return core.NewValidationError(ErrHasLease)
	}
	return svc.repo.DeleteUnit(ctx, u.ID)
}

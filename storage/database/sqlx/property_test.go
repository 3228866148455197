package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/property"
	testutil "github.com/trezcool/nyumba/tests"
)

func unitLabels(units []property.Unit) []string {
	res := make([]string, 0, len(units))
	for _, u := range units {
		res = append(res, u.Label)
	}
	return res
}

func leaseIDs(leases []lease.Lease) []string {
	res := make([]string, 0, len(leases))
	for _, l := range leases {
		res = append(res, l.ID)
	}
	return res
}

func TestPropertyRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	usrRepo := NewUserRepository(db)
	propRepo := NewPropertyRepository(db)
	leaseRepo := NewLeaseRepository(db)

	lily := testutil.CreateLandlord(t, usrRepo, "Lily")
	leo := testutil.CreateLandlord(t, usrRepo, "Leo")
	tom := testutil.CreateTenant(t, usrRepo, "Tom")

	sunset := testutil.CreateProperty(t, propRepo, lily.ID, "Sunset Apartments")
	hill := testutil.CreateProperty(t, propRepo, leo.ID, "Hill Court")
	a1 := testutil.CreateUnit(t, propRepo, sunset, "A1", 1000)
	testutil.CreateUnit(t, propRepo, sunset, "A2", 1200)
	b1 := testutil.CreateUnit(t, propRepo, hill, "B1", 800)

	t.Run("duplicate unit label", func(t *testing.T) {
		dup := a1
		dup.ID = "6f1d2c3b-0000-4000-8000-000000000001"
		_, err := propRepo.CreateUnit(ctx, dup)
		assert.Error(t, err)
	})

	t.Run("query properties", func(t *testing.T) {
		props, err := propRepo.QueryProperties(ctx, &property.QueryFilter{Search: "sunset"}, nil)
		require.NoError(t, err)
		require.Len(t, props, 1)
		assert.Equal(t, sunset.ID, props[0].ID)

		props, err = propRepo.QueryProperties(ctx, &property.QueryFilter{City: "NAIROBI"}, nil)
		require.NoError(t, err)
		assert.Len(t, props, 2)
		assert.Equal(t, hill.ID, props[0].ID, "ordered by name")

		props, err = propRepo.QueryProperties(ctx, &property.QueryFilter{LandlordID: leo.ID}, nil)
		require.NoError(t, err)
		require.Len(t, props, 1)
		assert.Equal(t, hill.ID, props[0].ID)
	})

	t.Run("units carry their landlord", func(t *testing.T) {
		u, err := propRepo.GetUnit(ctx, b1.ID)
		require.NoError(t, err)
		assert.Equal(t, leo.ID, u.LandlordID)
		assert.True(t, decimal.NewFromInt(800).Equal(u.MonthlyRent))

		units, err := propRepo.QueryUnits(ctx, &property.UnitFilter{LandlordID: lily.ID}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A1", "A2"}, unitLabels(units))
		for _, u := range units {
			assert.Equal(t, lily.ID, u.LandlordID)
		}

		_, err = propRepo.GetUnit(ctx, "missing")
		assert.Equal(t, property.ErrUnitNotFound, err)
	})

	t.Run("leases", func(t *testing.T) {
		busy, err := propRepo.HasActiveLease(ctx, sunset.ID, "")
		require.NoError(t, err)
		assert.False(t, busy)

		testutil.CreateLease(t, leaseRepo, propRepo, a1, tom.ID, time.Now().AddDate(0, -1, 0))

		busy, err = propRepo.HasActiveLease(ctx, sunset.ID, "")
		require.NoError(t, err)
		assert.True(t, busy)
		busy, err = propRepo.HasActiveLease(ctx, sunset.ID, a1.ID)
		require.NoError(t, err)
		assert.True(t, busy)
		busy, err = propRepo.HasActiveLease(ctx, hill.ID, "")
		require.NoError(t, err)
		assert.False(t, busy)

		u, err := propRepo.GetUnit(ctx, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, property.UnitOccupied, u.Status)

		units, err := propRepo.QueryUnits(ctx, &property.UnitFilter{TenantID: tom.ID}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A1"}, unitLabels(units))

		units, err = propRepo.QueryUnits(ctx, &property.UnitFilter{PropertyID: sunset.ID, Statuses: []string{property.UnitVacant}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A2"}, unitLabels(units))

		props, err := propRepo.QueryProperties(ctx, &property.QueryFilter{TenantID: tom.ID}, nil)
		require.NoError(t, err)
		require.Len(t, props, 1)
		assert.Equal(t, sunset.ID, props[0].ID)
	})

	t.Run("update and delete", func(t *testing.T) {
		hill.Description = "Quiet, with a garden"
		_, err := propRepo.UpdateProperty(ctx, hill)
		require.NoError(t, err)
		got, err := propRepo.GetProperty(ctx, hill.ID)
		require.NoError(t, err)
		assert.Equal(t, "Quiet, with a garden", got.Description)

		require.NoError(t, propRepo.SetUnitStatus(ctx, b1.ID, property.UnitMaintenance))
		assert.Equal(t, property.ErrUnitNotFound, propRepo.SetUnitStatus(ctx, "missing", property.UnitVacant))

		require.NoError(t, propRepo.DeleteProperty(ctx, hill.ID))
		_, err = propRepo.GetUnit(ctx, b1.ID)
		assert.Equal(t, property.ErrUnitNotFound, err, "units are deleted with their property")
		assert.Equal(t, property.ErrNotFound, propRepo.DeleteProperty(ctx, hill.ID))
	})
}

func TestLeaseRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	usrRepo := NewUserRepository(db)
	propRepo := NewPropertyRepository(db)
	leaseRepo := NewLeaseRepository(db)

	lily := testutil.CreateLandlord(t, usrRepo, "Lily")
	tom := testutil.CreateTenant(t, usrRepo, "Tom")
	tia := testutil.CreateTenant(t, usrRepo, "Tia")
	sunset := testutil.CreateProperty(t, propRepo, lily.ID, "Sunset Apartments")
	a1 := testutil.CreateUnit(t, propRepo, sunset, "A1", 1000)
	a2 := testutil.CreateUnit(t, propRepo, sunset, "A2", 1200)

	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	current := testutil.CreateLease(t, leaseRepo, propRepo, a1, tom.ID, day(2024, 1, 1))
	current.EndDate = null.TimeFrom(day(2024, 12, 31))
	current.DueDay = 3
	_, err := leaseRepo.UpdateLease(ctx, current)
	require.NoError(t, err)

	upcoming, err := leaseRepo.CreateLease(ctx, lease.Lease{
		ID:          "0f8c7d1e-0000-4000-8000-000000000002",
		UnitID:      a2.ID,
		PropertyID:  a2.PropertyID,
		LandlordID:  lily.ID,
		TenantID:    tia.ID,
		StartDate:   day(2024, 6, 1),
		MonthlyRent: a2.MonthlyRent,
		Deposit:     decimal.NewFromInt(2400),
		Status:      lease.StatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := leaseRepo.GetLease(ctx, current.ID)
	require.NoError(t, err)
	assert.True(t, got.EndDate.Valid)
	assert.True(t, day(2024, 12, 31).Equal(got.EndDate.Time))
	assert.Equal(t, 3, got.DueDay)
	assert.Equal(t, lease.StatusActive, got.Status)

	got, err = leaseRepo.GetLease(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.False(t, got.EndDate.Valid)
	assert.True(t, decimal.NewFromInt(2400).Equal(got.Deposit))

	_, err = leaseRepo.GetLease(ctx, "missing")
	assert.Equal(t, lease.ErrNotFound, err)

	tests := []struct {
		name     string
		filter   *lease.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all, latest start first", want: []string{upcoming.ID, current.ID}},
		{name: "ordered by start", ordering: []core.DBOrdering{{Field: "start_date", Ascending: true}}, want: []string{current.ID, upcoming.ID}},
		{name: "status", filter: &lease.QueryFilter{Statuses: []string{lease.StatusPending}}, want: []string{upcoming.ID}},
		{name: "tenant", filter: &lease.QueryFilter{TenantID: tom.ID}, want: []string{current.ID}},
		{name: "landlord", filter: &lease.QueryFilter{LandlordID: lily.ID}, want: []string{upcoming.ID, current.ID}},
		{name: "unit", filter: &lease.QueryFilter{UnitID: a2.ID}, want: []string{upcoming.ID}},
		{name: "started by", filter: &lease.QueryFilter{StartBy: day(2024, 6, 1)}, want: []string{upcoming.ID, current.ID}},
		{name: "not started by", filter: &lease.QueryFilter{StartBy: day(2024, 5, 31)}, want: []string{current.ID}},
		{name: "ended before", filter: &lease.QueryFilter{EndBefore: day(2025, 1, 1)}, want: []string{current.ID}},
		{name: "not ended before", filter: &lease.QueryFilter{EndBefore: day(2024, 12, 31)}, want: []string{}},
		{name: "ids", filter: &lease.QueryFilter{IDs: []string{current.ID, "missing"}}, want: []string{current.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leases, err := leaseRepo.QueryLeases(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, leaseIDs(leases))
		})
	}
}

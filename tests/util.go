package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	_ "modernc.org/sqlite"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
	"github.com/trezcool/nyumba/storage/database"
)

var dbCount int64

// OpenDB opens a private in-memory sqlite database with all the migrations applied.
// It is closed when the test ends.
func OpenDB(t testing.TB) *sqlx.DB {
	t.Helper()

	name := fmt.Sprintf("nyumba%d", atomic.AddInt64(&dbCount, 1))
	db, err := sqlx.Open("sqlite", "file:"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	// a single connection keeps the memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err = database.Migrate(db.DB, database.Dialect("sqlite")); err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Config returns the TEST config.
func Config() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false
	conf.Billing.Currency = "USD"
	conf.Billing.DueDay = 5
	conf.Billing.GraceDays = 3
	conf.Billing.LateFeeFlat = decimal.NewFromInt(50)
	conf.Billing.LateFeePercent = decimal.Zero
	return conf
}

func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateLandlord and CreateTenant create active users whose username is derived from name.
func CreateLandlord(t testing.TB, repo user.Repository, name string) user.User {
	t.Helper()
	uname := strings.ToLower(name)
	return CreateUser(t, repo, name, uname, uname+"@nyumba.test", "", user.LandlordRoles, true)
}

func CreateTenant(t testing.TB, repo user.Repository, name string) user.User {
	t.Helper()
	uname := strings.ToLower(name)
	return CreateUser(t, repo, name, uname, uname+"@nyumba.test", "", user.TenantRoles, true)
}

func CreateProperty(t testing.TB, repo property.Repository, landlordID, name string) property.Property {
	t.Helper()

	now := time.Now().UTC()
	p, err := repo.CreateProperty(context.Background(), property.Property{
		ID:         uuid.New().String(),
		LandlordID: landlordID,
		Name:       name,
		City:       "Nairobi",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateProperty() failed: %v", err)
	}
	return p
}

func CreateUnit(t testing.TB, repo property.Repository, p property.Property, label string, rent int64) property.Unit {
	t.Helper()

	now := time.Now().UTC()
	u, err := repo.CreateUnit(context.Background(), property.Unit{
		ID:          uuid.New().String(),
		PropertyID:  p.ID,
		Label:       label,
		Bedrooms:    1,
		Bathrooms:   1,
		MonthlyRent: decimal.NewFromInt(rent),
		Status:      property.UnitVacant,
		CreatedAt:   now,
		UpdatedAt:   now,
		LandlordID:  p.LandlordID,
	})
	if err != nil {
		t.Fatalf("CreateUnit() failed: %v", err)
	}
	return u
}

// CreateLease creates an active lease on the unit starting at start, and marks the unit occupied.
func CreateLease(t testing.TB, repo lease.Repository, propRepo property.Repository, u property.Unit, tenantID string, start time.Time) lease.Lease {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	l, err := repo.CreateLease(ctx, lease.Lease{
		ID:          uuid.New().String(),
		UnitID:      u.ID,
		PropertyID:  u.PropertyID,
		LandlordID:  u.LandlordID,
		TenantID:    tenantID,
		StartDate:   core.TruncateDay(start),
		EndDate:     null.Time{},
		MonthlyRent: u.MonthlyRent,
		Deposit:     decimal.Zero,
		Status:      lease.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateLease() failed: %v", err)
	}
	if err = propRepo.SetUnitStatus(ctx, u.ID, property.UnitOccupied); err != nil {
		t.Fatalf("CreateLease() failed: %v", err)
	}
	return l
}

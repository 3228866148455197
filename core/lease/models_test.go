package lease

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLease_IsActiveDuring(t *testing.T) {
	jan, feb, mar := date(2024, 1, 1), date(2024, 2, 1), date(2024, 3, 1)

	tests := []struct {
		name  string
		lease Lease
		want  bool
	}{
		{name: "open ended", lease: Lease{Status: StatusActive, StartDate: date(2023, 6, 1)}, want: true},
		{name: "starts mid month", lease: Lease{Status: StatusActive, StartDate: date(2024, 2, 15)}, want: true},
		{name: "starts next month", lease: Lease{Status: StatusActive, StartDate: mar}},
		{name: "ended last month", lease: Lease{Status: StatusActive, StartDate: jan, EndDate: null.TimeFrom(date(2024, 1, 31))}},
		{name: "ends on first day", lease: Lease{Status: StatusActive, StartDate: jan, EndDate: null.TimeFrom(feb)}, want: true},
		{name: "pending", lease: Lease{Status: StatusPending, StartDate: jan}},
		{name: "terminated", lease: Lease{Status: StatusTerminated, StartDate: jan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lease.IsActiveDuring(feb, mar))
		})
	}
}

func TestLease_HasEnded(t *testing.T) {
	l := Lease{EndDate: null.TimeFrom(date(2024, 1, 31))}
	assert.False(t, l.HasEnded(date(2024, 1, 31).Add(23*time.Hour)))
	assert.True(t, l.HasEnded(date(2024, 2, 1).Add(time.Minute)))
	assert.False(t, Lease{}.HasEnded(time.Now()))
}

func TestNewLease_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	unitID, tenantID := "4a7d1ed4-1f2b-4a8e-9c59-3b7b1f0e8a11", "7c3e2b10-8d4f-4b6a-a1c2-5e9f0d3b2c44"
	rent := decimal.NewFromInt(-1)

	tests := []struct {
		name      string
		nl        NewLease
		wantField string
	}{
		{name: "missing unit", nl: NewLease{TenantID: tenantID, StartDate: date(2024, 1, 1)}, wantField: "unit_id"},
		{name: "end before start", nl: NewLease{UnitID: unitID, TenantID: tenantID, StartDate: date(2024, 1, 1), EndDate: null.TimeFrom(date(2023, 12, 1))}, wantField: "end_date"},
		{name: "negative rent", nl: NewLease{UnitID: unitID, TenantID: tenantID, StartDate: date(2024, 1, 1), MonthlyRent: &rent}, wantField: "monthly_rent"},
		{name: "due day", nl: NewLease{UnitID: unitID, TenantID: tenantID, StartDate: date(2024, 1, 1), DueDay: 32}, wantField: "due_day"},
		{name: "valid", nl: NewLease{UnitID: unitID, TenantID: tenantID, StartDate: time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nl.Validate(validate)
			if tt.wantField == "" {
				assert.NoError(t, err)
				assert.Equal(t, date(2024, 1, 1), tt.nl.StartDate)
				return
			}
			switch e := err.(type) {
			case validator.ValidationErrors:
				assert.Equal(t, tt.wantField, e[0].Field())
			case *core.ValidationError:
				assert.Equal(t, tt.wantField, e.Fields[0].Field)
			default:
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/nyumba/core"
)

var (
	orderingParam = "ordering"

	// accepted layouts of date query params, tried in order
	dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01"}
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func parseDate(val string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateParams binds date query params into the given targets, eg. {"created_from": &filter.CreatedFrom}.
type DateParams map[string]*time.Time

func (dp DateParams) Bind(ctx echo.Context) error {
	for param, target := range dp {
		val := strings.TrimSpace(ctx.QueryParam(param))
		if val == "" {
			continue
		}
		t, ok := parseDate(val)
		if !ok {
			return core.NewFieldError(param, "invalid date, use YYYY-MM-DD or RFC 3339")
		}
		*target = t
	}
	return nil
}

// monthParam returns the first day (UTC) of the month named by the param; the current month when absent.
func monthParam(ctx echo.Context, param string) (time.Time, error) {
	month := core.NowFunc().UTC()
	if val := strings.TrimSpace(ctx.QueryParam(param)); val != "" {
		t, ok := parseDate(val)
		if !ok {
			return time.Time{}, core.NewFieldError(param, "invalid month, use YYYY-MM")
		}
		month = t.UTC()
	}
	return time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

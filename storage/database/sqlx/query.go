// Package sqlxrepos implements the domain repositories on top of sqlx.
// Queries are written with `?` placeholders and rebound for the executor's driver (postgres or sqlite).
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
)

type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// trapNoRowsErr maps sql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// in adds `col IN (..)`; it is a no-op when vals is empty.
func (w *where) in(col string, vals []string) {
	if len(vals) == 0 {
		return
	}
	args := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		args = append(args, v)
	}
	w.add(col+" IN (?"+strings.Repeat(", ?", len(vals)-1)+")", args...)
}

func (w *where) notIn(col string, vals []string) {
	if len(vals) == 0 {
		return
	}
	args := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		args = append(args, v)
	}
	w.add(col+" NOT IN (?"+strings.Repeat(", ?", len(vals)-1)+")", args...)
}

func (w *where) eq(col, val string) {
	if val != "" {
		w.add(col+" = ?", val)
	}
}

// since adds `col >= from` when from is set.
func (w *where) since(col string, from time.Time) {
	if !from.IsZero() {
		w.add(col+" >= ?", from.UTC())
	}
}

// before adds `col < to` when to is set.
func (w *where) before(col string, to time.Time) {
	if !to.IsZero() {
		w.add(col+" < ?", to.UTC())
	}
}

// search adds a case-insensitive substring match on any of cols.
func (w *where) search(term string, cols ...string) {
	if term == "" {
		return
	}
	val := "%" + strings.ToLower(term) + "%"
	parts := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, "LOWER("+col+") LIKE ?")
		args = append(args, val)
	}
	w.add(strings.Join(parts, " OR "), args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE (" + strings.Join(w.conds, ") AND (") + ")"
}

func selectRows(ctx context.Context, exe core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, exe, dest, exe.Rebind(query), args...)
}

func getRow(ctx context.Context, exe core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, exe, dest, exe.Rebind(query), args...)
}

func execQuery(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) (sql.Result, error) {
	return exe.ExecContext(ctx, exe.Rebind(query), args...)
}

// execOne runs an UPDATE or DELETE expected to touch a single row, returning notFound when it touched none.
func execOne(ctx context.Context, exe core.DBExecutor, notFound error, msg, query string, args ...interface{}) error {
	res, err := execQuery(ctx, exe, query, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func count(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) (int, error) {
	var n int
	err := getRow(ctx, exe, &n, query, args...)
	return n, err
}

package sqlxrepos

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/notification"
)

const (
	notificationColumns = "id, user_id, kind, title, body, link, read_at, created_at"
	outboxColumns       = "id, recipient, subject, text_content, html_content, attempts, last_error, created_at, sent_at, next_attempt_at"
)

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	Link      string    `db:"link"`
	ReadAt    null.Time `db:"read_at"`
	CreatedAt time.Time `db:"created_at"`
}

type notificationRepository struct {
	repository
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{repository{exec: exec}}
}

func (repo notificationRepository) CreateNotifications(ctx context.Context, notes []notification.Notification, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	q := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES (:id, :user_id, :kind, :title, :body, :link, :read_at, :created_at)`
	for _, n := range notes {
		row := notificationRow(n)
		row.CreatedAt = row.CreatedAt.UTC()
		if _, err := sqlx.NamedExecContext(ctx, exe, q, row); err != nil {
			return errors.Wrap(err, "inserting notification")
		}
	}
	return nil
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, filter *notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	var w where
	limit := 50
	if filter != nil {
		w.eq("user_id", filter.UserID)
		w.in("kind", filter.Kinds)
		if filter.Unread {
			w.add("read_at IS NULL")
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
	}

	q := "SELECT " + notificationColumns + " FROM notifications" + w.String() + " ORDER BY created_at DESC LIMIT " + strconv.Itoa(limit)
	var rows []notificationRow
	if err := selectRows(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}

	notes := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		n := notification.Notification(row)
		n.CreatedAt = n.CreatedAt.UTC()
		n.ReadAt = utcNull(n.ReadAt)
		notes = append(notes, n)
	}
	return notes, nil
}

func (repo notificationRepository) CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	n, err := count(ctx, repo.getExec(exec), "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read_at IS NULL", userID)
	if err != nil {
		return 0, errors.Wrap(err, "counting notifications")
	}
	return n, nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int64, error) {
	var w where
	w.add("user_id = ?", userID)
	w.add("read_at IS NULL")
	w.in("id", ids)

	args := append([]interface{}{at.UTC()}, w.args...)
	res, err := execQuery(ctx, repo.getExec(exec), "UPDATE notifications SET read_at = ?"+w.String(), args...)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return res.RowsAffected()
}

func (repo notificationRepository) EnqueueEmail(ctx context.Context, oe notification.OutboxEmail, exec ...core.DBExecutor) error {
	q := `INSERT INTO email_outbox (` + outboxColumns + `)
		VALUES (:id, :recipient, :subject, :text_content, :html_content, :attempts, :last_error, :created_at, :sent_at, :next_attempt_at)`
	oe.CreatedAt = oe.CreatedAt.UTC()
	if oe.NextAttemptAt.IsZero() {
		oe.NextAttemptAt = oe.CreatedAt
	}
	oe.NextAttemptAt = oe.NextAttemptAt.UTC()
	if _, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), q, oe); err != nil {
		return errors.Wrap(err, "enqueuing email")
	}
	return nil
}

func (repo notificationRepository) PendingEmails(ctx context.Context, maxAttempts, limit int, now time.Time, exec ...core.DBExecutor) ([]notification.OutboxEmail, error) {
	q := "SELECT " + outboxColumns + " FROM email_outbox WHERE sent_at IS NULL AND attempts < ? AND next_attempt_at <= ?" +
		" ORDER BY created_at LIMIT " + strconv.Itoa(limit)
	var emails []notification.OutboxEmail
	if err := selectRows(ctx, repo.getExec(exec), &emails, q, maxAttempts, now.UTC()); err != nil {
		return nil, errors.Wrap(err, "querying outbox")
	}
	return emails, nil
}

func (repo notificationRepository) MarkEmailSent(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error {
	return execOne(ctx, repo.getExec(exec), notification.ErrNotFound, "marking email sent",
		"UPDATE email_outbox SET sent_at = ?, last_error = '' WHERE id = ?", at.UTC(), id)
}

func (repo notificationRepository) MarkEmailFailed(ctx context.Context, id, lastErr string, next time.Time, exec ...core.DBExecutor) error {
	return execOne(ctx, repo.getExec(exec), notification.ErrNotFound, "marking email failed",
		"UPDATE email_outbox SET attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?", lastErr, next.UTC(), id)
}

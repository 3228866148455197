package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/nyumba/core/notification"
	testutil "github.com/trezcool/nyumba/tests"
)

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	usrRepo := NewUserRepository(db)
	repo := NewNotificationRepository(db)

	tom := testutil.CreateTenant(t, usrRepo, "Tom")
	tia := testutil.CreateTenant(t, usrRepo, "Tia")

	now := time.Now().UTC()
	note := func(userID, kind, title string, age time.Duration) notification.Notification {
		return notification.Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Kind:      kind,
			Title:     title,
			CreatedAt: now.Add(-age),
		}
	}
	lease := note(tom.ID, notification.KindLease, "New lease", 3*time.Hour)
	bill := note(tom.ID, notification.KindBill, "New bill", 2*time.Hour)
	paid := note(tom.ID, notification.KindPayment, "Payment received", time.Hour)
	other := note(tia.ID, notification.KindBill, "New bill", time.Hour)
	require.NoError(t, repo.CreateNotifications(ctx, []notification.Notification{lease, bill, paid, other}))

	titles := func(notes []notification.Notification) []string {
		res := make([]string, 0, len(notes))
		for _, n := range notes {
			res = append(res, n.Title)
		}
		return res
	}

	notes, err := repo.QueryNotifications(ctx, &notification.QueryFilter{UserID: tom.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Payment received", "New bill", "New lease"}, titles(notes))

	notes, err = repo.QueryNotifications(ctx, &notification.QueryFilter{UserID: tom.ID, Kinds: []string{notification.KindBill}})
	require.NoError(t, err)
	assert.Equal(t, []string{"New bill"}, titles(notes))

	notes, err = repo.QueryNotifications(ctx, &notification.QueryFilter{UserID: tom.ID, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Payment received"}, titles(notes))

	n, err := repo.CountUnread(ctx, tom.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// other users' notifications are left alone
	marked, err := repo.MarkRead(ctx, tom.ID, []string{lease.ID, other.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	notes, err = repo.QueryNotifications(ctx, &notification.QueryFilter{UserID: tom.ID, Unread: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Payment received", "New bill"}, titles(notes))

	marked, err = repo.MarkRead(ctx, tom.ID, nil, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	n, err = repo.CountUnread(ctx, tom.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.CountUnread(ctx, tia.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	notes, err = repo.QueryNotifications(ctx, &notification.QueryFilter{UserID: tom.ID})
	require.NoError(t, err)
	for _, n := range notes {
		assert.True(t, n.IsRead(), n.Title)
	}
}

func TestNotificationRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(testutil.OpenDB(t))

	now := time.Now().UTC()
	first := notification.OutboxEmail{
		ID:          uuid.New().String(),
		Recipient:   "Tom <tom@nyumba.test>",
		Subject:     "New bill",
		TextContent: "Your rent is due.",
		Attempts:    1,
		LastError:   "connection refused",
		CreatedAt:   now.Add(-time.Minute),
	}
	second := first
	second.ID = uuid.New().String()
	second.Subject = "Payment received"
	second.CreatedAt = now
	require.NoError(t, repo.EnqueueEmail(ctx, first))
	require.NoError(t, repo.EnqueueEmail(ctx, second))

	pending, err := repo.PendingEmails(ctx, 3, 10, now)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID, "oldest first")
	assert.Equal(t, "connection refused", pending[0].LastError)
	assert.False(t, pending[0].SentAt.Valid)
	assert.True(t, pending[0].NextAttemptAt.Equal(first.CreatedAt), "due once queued")

	later := now.Add(10 * time.Minute)
	require.NoError(t, repo.MarkEmailFailed(ctx, first.ID, "timeout", now.Add(5*time.Minute)))
	require.NoError(t, repo.MarkEmailFailed(ctx, first.ID, "timeout", later))
	require.NoError(t, repo.MarkEmailSent(ctx, second.ID, now))

	pending, err = repo.PendingEmails(ctx, 4, 10, now)
	require.NoError(t, err)
	assert.Empty(t, pending, "first is backing off, second is sent")

	pending, err = repo.PendingEmails(ctx, 3, 10, later)
	require.NoError(t, err)
	assert.Empty(t, pending, "first is out of attempts")

	pending, err = repo.PendingEmails(ctx, 4, 10, later)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].LastError)
	assert.True(t, pending[0].NextAttemptAt.Equal(later))

	assert.Equal(t, notification.ErrNotFound, repo.MarkEmailSent(ctx, "missing", now))
	assert.Equal(t, notification.ErrNotFound, repo.MarkEmailFailed(ctx, "missing", "boom", now))
}

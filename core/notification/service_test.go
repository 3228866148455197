package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/user"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type memRepo struct {
	mu     sync.Mutex
	notes  []Notification
	outbox []OutboxEmail
}

func (r *memRepo) CreateNotifications(_ context.Context, notes []Notification, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
	return nil
}

func (r *memRepo) QueryNotifications(_ context.Context, filter *QueryFilter, _ ...core.DBExecutor) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Notification, 0)
	for _, n := range r.notes {
		if n.UserID == filter.UserID && (!filter.Unread || !n.IsRead()) {
			res = append(res, n)
		}
	}
	return res, nil
}

func (r *memRepo) CountUnread(ctx context.Context, userID string, _ ...core.DBExecutor) (int, error) {
	notes, _ := r.QueryNotifications(ctx, &QueryFilter{UserID: userID, Unread: true})
	return len(notes), nil
}

func (r *memRepo) MarkRead(_ context.Context, userID string, ids []string, at time.Time, _ ...core.DBExecutor) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i, note := range r.notes {
		if note.UserID == userID && !note.IsRead() && (len(ids) == 0 || core.StringInSlice(note.ID, ids)) {
			r.notes[i].ReadAt.SetValid(at)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) EnqueueEmail(_ context.Context, oe OutboxEmail, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox = append(r.outbox, oe)
	return nil
}

func (r *memRepo) PendingEmails(_ context.Context, maxAttempts, _ int, now time.Time, _ ...core.DBExecutor) ([]OutboxEmail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]OutboxEmail, 0)
	for _, oe := range r.outbox {
		if !oe.SentAt.Valid && oe.Attempts < maxAttempts && !oe.NextAttemptAt.After(now) {
			res = append(res, oe)
		}
	}
	return res, nil
}

func (r *memRepo) MarkEmailSent(_ context.Context, id string, at time.Time, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].SentAt.SetValid(at)
		}
	}
	return nil
}

func (r *memRepo) MarkEmailFailed(_ context.Context, id, lastErr string, next time.Time, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].Attempts++
			r.outbox[i].LastError = lastErr
			r.outbox[i].NextAttemptAt = next
		}
	}
	return nil
}

// flakyMailer fails while down is set; messages get pre-rendered contents.
type flakyMailer struct {
	mu   sync.Mutex
	down bool
	sent []*core.EmailMessage
}

func (m *flakyMailer) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		_ = m.Send(context.Background(), msg)
	}
}

func (m *flakyMailer) Send(_ context.Context, msg *core.EmailMessage) error {
	if msg.TemplateName != "" {
		msg.TextContent = fmt.Sprintf("%v", msg.TemplateData)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type usersStub struct {
	user.Service
	users map[string]user.User
}

func (s usersStub) GetByID(_ context.Context, id string) (user.User, error) {
	usr, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func newTestService(t *testing.T) (Service, *memRepo, *flakyMailer, *Hub) {
	t.Helper()
	repo := new(memRepo)
	mailer := new(flakyMailer)
	hub := NewHub()
	t.Cleanup(hub.Close)
	users := usersStub{users: map[string]user.User{
		"u1": {ID: "u1", Name: "Tenant", Email: "tenant@test.test", IsActive: true},
		"u2": {ID: "u2", Name: "Inactive", Email: "inactive@test.test"},
	}}
	conf := &core.Config{FrontendBaseURL: "http://front.test"}
	conf.Outbox.MaxAttempts = 3
	conf.Outbox.ReplayInterval = time.Minute
	conf.Outbox.MaxBackoff = time.Hour
	return NewServiceMock(repo, users, mailer, hub, nopLogger{}, conf), repo, mailer, hub
}

func TestService_Notify(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	actor := user.User{ID: "u1"}
	sub := svc.Subscribe(actor)
	defer sub.Close()

	svc.Notify(context.Background(),
		NewNotification{UserID: "u1", Kind: KindBill, Title: "New bill", Link: "/bills/1"},
		NewNotification{UserID: "u2", Title: "Hello"},
		NewNotification{Title: "nobody"},
	)

	require.Len(t, repo.notes, 2)
	assert.Equal(t, KindSystem, repo.notes[1].Kind)

	got := <-sub.C
	assert.Equal(t, "New bill", got.Title)

	// inactive users are not emailed
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "tenant@test.test", mailer.sent[0].To[0].Address)
	assert.Contains(t, mailer.sent[0].TextContent, "http://front.test/bills/1")

	count, err := svc.UnreadCount(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := svc.MarkRead(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	notes, err := svc.Query(context.Background(), actor, &QueryFilter{Unread: true})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

// frozenClock pins core.NowFunc for the test; the returned func moves it forward.
func frozenClock(t *testing.T) (advance func(d time.Duration)) {
	t.Helper()
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	core.NowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	t.Cleanup(func() { core.NowFunc = time.Now })
	return func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
}

func TestService_ReplayOutbox(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	ctx := context.Background()
	advance := frozenClock(t)
	start := core.NowFunc()

	mailer.down = true
	svc.Notify(ctx, NewNotification{UserID: "u1", Title: "Payment received"})
	require.Len(t, repo.outbox, 1)
	assert.Equal(t, "smtp down", repo.outbox[0].LastError)
	assert.Equal(t, `"Tenant" <tenant@test.test>`, repo.outbox[0].Recipient)
	assert.Equal(t, start.Add(2*time.Minute), repo.outbox[0].NextAttemptAt)

	replay := func(wantSent, wantAttempts int) {
		t.Helper()
		sent, err := svc.ReplayOutbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantSent, sent)
		assert.Equal(t, wantAttempts, repo.outbox[0].Attempts)
	}

	replay(0, 1) // not due yet
	advance(2 * time.Minute)
	replay(0, 2)
	assert.Equal(t, start.Add(6*time.Minute), repo.outbox[0].NextAttemptAt, "the delay doubles")
	advance(3 * time.Minute)
	replay(0, 2)

	mailer.down = false
	advance(time.Minute)
	replay(1, 2)
	assert.True(t, repo.outbox[0].SentAt.Valid)
	assert.Equal(t, "Payment received", mailer.sent[0].Subject)

	advance(time.Hour)
	replay(0, 2)
}

func TestService_ReplayOutboxGivesUp(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	ctx := context.Background()
	advance := frozenClock(t)

	mailer.down = true
	svc.Notify(ctx, NewNotification{UserID: "u1", Title: "Lease"})
	for i := 0; i < 5; i++ {
		advance(time.Hour)
		_, err := svc.ReplayOutbox(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, repo.outbox[0].Attempts)
}

func TestService_outboxBackoff(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	s := svc.(*serviceMock).service
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		attempts  int
		wantDelay time.Duration
	}{
		{attempts: 1, wantDelay: 2 * time.Minute},
		{attempts: 2, wantDelay: 4 * time.Minute},
		{attempts: 5, wantDelay: 32 * time.Minute},
		{attempts: 6, wantDelay: time.Hour}, // capped
		{attempts: 20, wantDelay: time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, now.Add(tt.wantDelay), s.nextAttempt(now, tt.attempts), "attempts=%d", tt.attempts)
	}
}

package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/user"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("notification")
)

type (
	Repository interface {
		CreateNotifications(ctx context.Context, notes []Notification, exec ...core.DBExecutor) error
		QueryNotifications(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		CountUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error)
		// MarkRead marks the user's notifications with the given IDs (all when ids is empty) as read.
		MarkRead(ctx context.Context, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int64, error)

		EnqueueEmail(ctx context.Context, oe OutboxEmail, exec ...core.DBExecutor) error
		// PendingEmails returns unsent emails with less than maxAttempts attempts that are due at now, oldest first.
		PendingEmails(ctx context.Context, maxAttempts, limit int, now time.Time, exec ...core.DBExecutor) ([]OutboxEmail, error)
		MarkEmailSent(ctx context.Context, id string, at time.Time, exec ...core.DBExecutor) error
		// MarkEmailFailed counts a failed attempt and defers the next one to next.
		MarkEmailFailed(ctx context.Context, id, lastErr string, next time.Time, exec ...core.DBExecutor) error
	}

	// Notifier is what other domains use to reach users.
	Notifier interface {
		// Notify stores the notifications, pushes them to connected clients and emails them.
		// Failures are logged, never returned.
		Notify(ctx context.Context, notes ...NewNotification)
	}

	Service interface {
		Notifier

		Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Notification, error)
		UnreadCount(ctx context.Context, actor user.User) (int, error)
		MarkRead(ctx context.Context, actor user.User, ids ...string) (int64, error)
		Subscribe(actor user.User) *Subscription
		// ReplayOutbox retries the delivery of failed emails, returning how many were sent.
		ReplayOutbox(ctx context.Context) (int, error)
		// RunOutbox replays the outbox every interval until ctx is done.
		RunOutbox(ctx context.Context, clk clock.Clock, interval time.Duration)
	}

	service struct {
		repo            Repository
		usrSvc          user.Service
		mailSvc         core.EmailService
		hub             *Hub
		logger          core.Logger
		frontendBaseURL string
		maxAttempts     int
		backoff         func(time.Duration, int) time.Duration
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service, mailSvc core.EmailService, hub *Hub, logger core.Logger, conf *core.Config) Service {
	return newService(repo, usrSvc, mailSvc, hub, logger, conf)
}

func newService(repo Repository, usrSvc user.Service, mailSvc core.EmailService, hub *Hub, logger core.Logger, conf *core.Config) *service {
	maxAttempts := conf.Outbox.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	minDelay := conf.Outbox.ReplayInterval
	if minDelay <= 0 {
		minDelay = time.Minute
	}
	maxDelay := conf.Outbox.MaxBackoff
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &service{
		repo:            repo,
		usrSvc:          usrSvc,
		mailSvc:         mailSvc,
		hub:             hub,
		logger:          logger,
		frontendBaseURL: conf.FrontendBaseURL,
		maxAttempts:     maxAttempts,
		backoff:         retry.ExpBackoff(minDelay, maxDelay, 2, false),
	}
}

func (svc *service) Notify(ctx context.Context, notes ...NewNotification) {
	created := svc.store(ctx, notes)
	if len(created) == 0 {
		return
	}
	go svc.email(context.Background(), created)
}

// store persists and publishes the notifications.
func (svc *service) store(ctx context.Context, notes []NewNotification) []Notification {
	now := core.NowFunc().UTC()
	created := make([]Notification, 0, len(notes))
	for _, nn := range notes {
		if nn.UserID == "" {
			continue
		}
		kind := nn.Kind
		if kind == "" {
			kind = KindSystem
		}
		created = append(created, Notification{
			ID:        uuid.New().String(),
			UserID:    nn.UserID,
			Kind:      kind,
			Title:     nn.Title,
			Body:      nn.Body,
			Link:      nn.Link,
			CreatedAt: now,
		})
	}
	if len(created) == 0 {
		return nil
	}

	if err := svc.repo.CreateNotifications(ctx, created); err != nil {
		svc.logger.Error(fmt.Sprintf("storing notifications: %v", err), err)
		return nil
	}
	svc.hub.Publish(created...)
	return created
}

func (svc *service) email(ctx context.Context, notes []Notification) {
	for _, n := range notes {
		usr, err := svc.usrSvc.GetByID(ctx, n.UserID)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("finding notification recipient: %v", err), err)
			continue
		}
		if !usr.IsActive || usr.Email == "" {
			continue
		}

		link := ""
		if n.Link != "" {
			link = svc.frontendBaseURL + n.Link
		}
		msg := &core.EmailMessage{
			To:           []mail.Address{{Name: usr.DisplayName(), Address: usr.Email}},
			Subject:      n.Title,
			TemplateName: "notification",
			TemplateData: map[string]interface{}{
				"Name":  usr.DisplayName(),
				"Title": n.Title,
				"Body":  n.Body,
				"Link":  link,
			},
		}
		if err = svc.mailSvc.Send(ctx, msg); err != nil {
			svc.enqueue(ctx, msg, err)
		}
	}
}

// enqueue keeps a failed email in the outbox.
func (svc *service) enqueue(ctx context.Context, msg *core.EmailMessage, sendErr error) {
	if !msg.HasContent() {
		svc.logger.Error(fmt.Sprintf("sending notification email: %v", sendErr), sendErr)
		return
	}
	now := core.NowFunc().UTC()
	for _, to := range msg.To {
		oe := OutboxEmail{
			ID:            uuid.New().String(),
			Recipient:     to.String(),
			Subject:       msg.Subject,
			TextContent:   msg.TextContent,
			HTMLContent:   msg.HTMLContent,
			Attempts:      1,
			LastError:     sendErr.Error(),
			CreatedAt:     now,
			NextAttemptAt: svc.nextAttempt(now, 1),
		}
		if err := svc.repo.EnqueueEmail(ctx, oe); err != nil {
			svc.logger.Error(fmt.Sprintf("queuing email: %v", err), err)
		}
	}
}

func (svc *service) scope(actor user.User, filter *QueryFilter) *QueryFilter {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.UserID = actor.ID
	filter.Clean()
	return filter
}

func (svc *service) Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Notification, error) {
	return svc.repo.QueryNotifications(ctx, svc.scope(actor, filter))
}

func (svc *service) UnreadCount(ctx context.Context, actor user.User) (int, error) {
	return svc.repo.CountUnread(ctx, actor.ID)
}

func (svc *service) MarkRead(ctx context.Context, actor user.User, ids ...string) (int64, error) {
	return svc.repo.MarkRead(ctx, actor.ID, ids, core.NowFunc().UTC())
}

func (svc *service) Subscribe(actor user.User) *Subscription {
	return svc.hub.Subscribe(actor.ID)
}

// nextAttempt is when an email that failed `attempts` times is retried: the delay doubles with every attempt, up to a cap.
func (svc *service) nextAttempt(now time.Time, attempts int) time.Time {
	return now.Add(svc.backoff(0, attempts))
}

func (svc *service) ReplayOutbox(ctx context.Context) (int, error) {
	now := core.NowFunc().UTC()
	pending, err := svc.repo.PendingEmails(ctx, svc.maxAttempts, 100, now)
	if err != nil {
		return 0, errors.Wrap(err, "loading outbox")
	}

	sent := 0
	for _, oe := range pending {
		if ctx.Err() != nil {
			break
		}
		msg, err := oe.message()
		if err == nil {
			err = svc.mailSvc.Send(ctx, msg)
		}
		if err != nil {
			next := svc.nextAttempt(now, oe.Attempts+1)
			if mErr := svc.repo.MarkEmailFailed(ctx, oe.ID, err.Error(), next); mErr != nil {
				return sent, errors.Wrap(mErr, "updating outbox")
			}
			continue
		}
		if err = svc.repo.MarkEmailSent(ctx, oe.ID, now); err != nil {
			return sent, errors.Wrap(err, "updating outbox")
		}
		sent++
	}
	return sent, nil
}

func (svc *service) RunOutbox(ctx context.Context, clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
			n, err := svc.ReplayOutbox(ctx)
			if err != nil {
				svc.logger.Error(fmt.Sprintf("replaying outbox: %v", err), err)
			} else if n > 0 {
				svc.logger.Info(fmt.Sprintf("outbox: %d email(s) sent", n))
			}
		}
	}
}

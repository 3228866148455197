package emailsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/nyumba/core"
)

const endpoint = "/v3/mail/send"

// StatusError is returned when SendGrid rejects a message.
type StatusError struct {
	Code int
	Body string
}

func (err StatusError) Error() string {
	return fmt.Sprintf("sendgrid: status %d: %s", err.Code, err.Body)
}

// Temporary reports whether the request may succeed if retried.
func (err StatusError) Temporary() bool {
	return err.Code == http.StatusTooManyRequests || err.Code >= http.StatusInternalServerError
}

type sendgridService struct {
	host       string
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger

	attempts int
	delay    time.Duration
	clock    clock.Clock
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		host:       "https://api.sendgrid.com",
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
		attempts:   3,
		delay:      time.Second,
		clock:      clock.WallClock,
	}
}

func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := svc.Send(context.Background(), msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
			}
		}()
	}
}

// Send delivers msg, retrying with a doubling delay on network errors, throttling and server errors.
func (svc sendgridService) Send(ctx context.Context, msg *core.EmailMessage) error {
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return nil
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = svc.send(*msg)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			var sErr StatusError
			if errors.As(err, &sErr) {
				return !sErr.Temporary()
			}
			return false
		},
		NotifyFunc: func(err error, attempt int) {
			svc.logger.Warn(fmt.Sprintf("sending email (attempt %d): %v", attempt, err))
		},
		Attempts:    svc.attempts,
		Delay:       svc.delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       svc.clock,
		Stop:        ctx.Done(),
	})
	// fatal errors come back traced and exhausted ones wrapped; callers match on the StatusError itself
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

func (svc sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(svc.getSGEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(svc.getSGEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(svc.getSGEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, a := range msg.Attachments {
		m.AddAttachment(svc.getSGAttachment(a))
	}
	return m
}

func (svc sendgridService) getSGEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc sendgridService) getSGAttachment(at core.Attachment) *sgmail.Attachment {
	return &sgmail.Attachment{
		Content:     at.Content.String(),
		Type:        at.ContentType,
		Filename:    at.Filename,
		Disposition: "attachment",
	}
}

func (svc sendgridService) send(msg core.EmailMessage) error {
	req := sendgrid.GetRequest(svc.key, endpoint, svc.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return StatusError{Code: res.StatusCode, Body: res.Body}
	}
	return nil
}

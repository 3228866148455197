package notification

import (
	"net/mail"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nyumba/core"
)

// Notification kinds
const (
	KindLease       = "lease"
	KindBill        = "bill"
	KindPayment     = "payment"
	KindMaintenance = "maintenance"
	KindSystem      = "system"
)

var Kinds = []string{KindLease, KindBill, KindPayment, KindMaintenance, KindSystem}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"` // frontend path, eg. /bills/<id>
	ReadAt    null.Time `json:"read_at"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

func (n Notification) IsRead() bool { return n.ReadAt.Valid }

// NewNotification is what domain services hand to Notify.
type NewNotification struct {
	UserID string
	Kind   string
	Title  string
	Body   string
	Link   string
}

type QueryFilter struct {
	Unread bool     `query:"unread"`
	Kinds  []string `query:"kind"`
	UserID string   `query:"-"`
	Limit  int      `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	if qf.Limit <= 0 || qf.Limit > 200 {
		qf.Limit = 50
	}
}

// OutboxEmail is a rendered email whose delivery failed, kept for replay.
type OutboxEmail struct {
	ID            string    `db:"id"`
	Recipient     string    `db:"recipient"` // RFC 5322 address
	Subject       string    `db:"subject"`
	TextContent   string    `db:"text_content"`
	HTMLContent   string    `db:"html_content"`
	Attempts      int       `db:"attempts"`
	LastError     string    `db:"last_error"`
	CreatedAt     time.Time `db:"created_at"`
	SentAt        null.Time `db:"sent_at"`
	NextAttemptAt time.Time `db:"next_attempt_at"` // due for delivery from then on
}

func (oe OutboxEmail) message() (*core.EmailMessage, error) {
	to, err := mail.ParseAddress(oe.Recipient)
	if err != nil {
		return nil, err
	}
	return &core.EmailMessage{
		To:          []mail.Address{*to},
		Subject:     oe.Subject,
		TextContent: oe.TextContent,
		HTMLContent: oe.HTMLContent,
	}, nil
}

package emailsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/nyumba/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func testConfig() *core.Config {
	conf := &core.Config{AppName: "Nyumba", SendgridApiKey: "key"}
	conf.SetDefaultFromEmail("noreply@nyumba.test")
	return conf
}

func testMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:      []mail.Address{{Name: "Tenant", Address: "tenant@nyumba.test"}},
		Subject: "Rent bill",
		BodyStr: "Your rent is due.",
	}
}

func newTestSendgrid(t *testing.T, statuses ...int) (*sendgridService, *int32) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, endpoint, r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		code := http.StatusAccepted
		if int(n) <= len(statuses) {
			code = statuses[n-1]
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	svc := NewSendgridService(testConfig(), nopLogger{})
	svc.host = srv.URL
	svc.delay = time.Millisecond
	svc.clock = clock.WallClock
	return svc, &calls
}

func TestSendgrid_Send(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		svc, calls := newTestSendgrid(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
		require.NoError(t, svc.Send(context.Background(), testMessage()))
		assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		svc, calls := newTestSendgrid(t, 500, 500, 500, 500)
		err := svc.Send(context.Background(), testMessage())
		var sErr StatusError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, 500, sErr.Code)
		assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	})

	t.Run("does not retry rejected messages", func(t *testing.T) {
		svc, calls := newTestSendgrid(t, http.StatusBadRequest)
		err := svc.Send(context.Background(), testMessage())
		var sErr StatusError
		require.ErrorAs(t, err, &sErr)
		assert.Equal(t, http.StatusBadRequest, sErr.Code)
		assert.False(t, sErr.Temporary())
		assert.Equal(t, sErr, errors.Cause(err))
		assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	})

	t.Run("skips messages without recipients", func(t *testing.T) {
		svc, calls := newTestSendgrid(t)
		msg := testMessage()
		msg.To = nil
		require.NoError(t, svc.Send(context.Background(), msg))
		assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	})
}

func TestConsoleServiceMock(t *testing.T) {
	ClearSentMessages()
	svc := NewConsoleServiceMock(testConfig(), nopLogger{})
	svc.SendMessages(testMessage())

	sent := SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Your rent is due.", sent[0].TextContent)
	assert.Equal(t, "tenant@nyumba.test", sent[0].To[0].Address)
}

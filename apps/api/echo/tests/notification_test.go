package tests

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/nyumba/apps/api/echo"
	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/notification"
	testutil "github.com/trezcool/nyumba/tests"
)

func Test_notificationApi(t *testing.T) {
	app := setup(t)
	larry := testutil.CreateLandlord(t, app.usrRepo, "Larry")
	tina := testutil.CreateTenant(t, app.usrRepo, "Tina")
	tom := testutil.CreateTenant(t, app.usrRepo, "Tom")
	acacia := testutil.CreateProperty(t, app.propRepo, larry.ID, "Acacia")
	a1 := testutil.CreateUnit(t, app.propRepo, acacia, "A1", 1000)

	// a lease creation and its termination notify the tenant twice
	larryToken := app.token(t, larry)
	rec := app.do(http.MethodPost, "/api/leases", larryToken, marchallObj(t, lease.NewLease{
		UnitID: a1.ID, TenantID: tina.ID, StartDate: core.TruncateDay(time.Now()),
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var l lease.Lease
	unmarchall(t, rec, &l)
	rec = app.do(http.MethodPost, "/api/leases/"+l.ID+"/terminate", larryToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	tinaToken := app.token(t, tina)
	unread := func(token string) int {
		rec := app.do(http.MethodGet, "/api/notifications/unread-count", token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.UnreadCountResponse
		unmarchall(t, rec, &resp)
		return resp.Unread
	}

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodGet, path: "/api/notifications", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "others see nothing", method: http.MethodGet, path: "/api/notifications", token: app.token(t, tom), wantData: []byte("[]")},
		{name: "kind filter", method: http.MethodGet, path: "/api/notifications?kind=bill", token: tinaToken, wantData: []byte("[]")},
	})

	rec = app.do(http.MethodGet, "/api/notifications", tinaToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []notification.Notification
	unmarchall(t, rec, &notes)
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, tina.ID, n.UserID)
		assert.False(t, n.IsRead())
	}
	assert.Equal(t, 2, unread(tinaToken))

	t.Run("mark read", func(t *testing.T) {
		// foreign ids are ignored
		rec := app.do(http.MethodPost, "/api/notifications/read", app.token(t, tom), marchallObj(t, echoapi.MarkReadRequest{IDs: []string{notes[0].ID}}))
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.MarkReadResponse{Marked: 0})}, rec)

		rec = app.do(http.MethodPost, "/api/notifications/read", tinaToken, marchallObj(t, echoapi.MarkReadRequest{IDs: []string{notes[0].ID}}))
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.MarkReadResponse{Marked: 1})}, rec)
		assert.Equal(t, 1, unread(tinaToken))

		rec = app.do(http.MethodGet, "/api/notifications?unread=true", tinaToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{notes[1].ID}, objectIDs(t, rec))

		rec = app.do(http.MethodPost, "/api/notifications/read", tinaToken, marchallObj(t, echoapi.MarkReadRequest{}))
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.MarkReadResponse{Marked: 1})}, rec)
		assert.Equal(t, 0, unread(tinaToken))
	})
}

func Test_notificationApi_stream(t *testing.T) {
	app := setup(t)
	larry := testutil.CreateLandlord(t, app.usrRepo, "Larry")
	tina := testutil.CreateTenant(t, app.usrRepo, "Tina")
	acacia := testutil.CreateProperty(t, app.propRepo, larry.ID, "Acacia")
	a1 := testutil.CreateUnit(t, app.propRepo, acacia, "A1", 1000)

	srv := httptest.NewServer(app)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/notifications/stream"

	t.Run("token required", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+app.token(t, tina), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return app.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := app.do(http.MethodPost, "/api/leases", app.token(t, larry), marchallObj(t, lease.NewLease{
		UnitID: a1.ID, TenantID: tina.ID, StartDate: core.TruncateDay(time.Now()),
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var n notification.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, tina.ID, n.UserID)
	assert.Equal(t, notification.KindLease, n.Kind)
	assert.Equal(t, "New lease for unit A1", n.Title)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return app.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/nyumba/apps/api/echo"
	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/document"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/maintenance"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
	emailsvc "github.com/trezcool/nyumba/services/email"
	sqlxrepos "github.com/trezcool/nyumba/storage/database/sqlx"
	testutil "github.com/trezcool/nyumba/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// testApp is a Server wired to a fresh database, with its repositories at hand for fixtures.
type testApp struct {
	*echoapi.Server

	conf      *core.Config
	db        *sqlx.DB
	hub       *notification.Hub
	usrRepo   user.Repository
	propRepo  property.Repository
	leaseRepo lease.Repository
	billRepo  billing.Repository
	maintRepo maintenance.Repository
	noteRepo  notification.Repository
	docRepo   document.Repository
}

func setup(t *testing.T) *testApp {
	t.Helper()

	conf := testutil.Config()
	logger := nopLogger{}

	// set up DB & repos
	db := testutil.OpenDB(t)
	app := &testApp{
		conf:      conf,
		db:        db,
		hub:       notification.NewHub(),
		usrRepo:   sqlxrepos.NewUserRepository(db),
		propRepo:  sqlxrepos.NewPropertyRepository(db),
		leaseRepo: sqlxrepos.NewLeaseRepository(db),
		billRepo:  sqlxrepos.NewBillingRepository(db),
		maintRepo: sqlxrepos.NewMaintenanceRepository(db),
		noteRepo:  sqlxrepos.NewNotificationRepository(db),
		docRepo:   sqlxrepos.NewDocumentRepository(db),
	}
	t.Cleanup(app.hub.Close)

	// set up validation & emails
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ClearSentMessages()

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewServiceMock(db, app.usrRepo, mailSvc, conf)
	noteSvc := notification.NewServiceMock(app.noteRepo, usrSvc, mailSvc, app.hub, logger, conf)
	propSvc := property.NewService(app.propRepo, usrSvc)
	leaseSvc := lease.NewService(db, app.leaseRepo, app.propRepo, propSvc, usrSvc, noteSvc, conf)
	policy, err := billing.NewPolicy(conf.Billing)
	if err != nil {
		t.Fatalf("NewPolicy() failed: %v", err)
	}
	billSvc := billing.NewService(db, app.billRepo, leaseSvc, propSvc, usrSvc, noteSvc, billing.NewEngine(policy), conf)
	maintSvc := maintenance.NewService(app.maintRepo, leaseSvc, noteSvc)
	docSvc := document.NewService(app.docRepo, document.NewMemoryStore(), leaseSvc, maintSvc, logger)

	// set up server
	app.Server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		UserSvc:         usrSvc,
		PropertySvc:     propSvc,
		LeaseSvc:        leaseSvc,
		BillingSvc:      billSvc,
		MaintenanceSvc:  maintSvc,
		NotificationSvc: noteSvc,
		DocumentSvc:     docSvc,
	})
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	return getToken(t, app.conf, usr)
}

// do serves a JSON request and returns the recorded response.
func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	claims := echoapi.GetUserClaims(conf, usr)
	token, err := echoapi.GenerateToken(claims, conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

// objectIDs returns the `id` of each object in a JSON list response.
func objectIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var objs []struct {
		ID string `json:"id"`
	}
	unmarchall(t, rec, &objs)
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	return ids
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	if _, ok := j2.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

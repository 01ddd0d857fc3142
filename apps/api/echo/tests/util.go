package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/cadenza/apps/api/echo"
	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/user"
	testutil "github.com/trezcool/cadenza/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// app is the whole API served on an in-memory environment.
type app struct {
	*testutil.Env
	srv echoapi.Server
}

// setup disables login rate limiting unless a confFn turns it back on.
func setup(t *testing.T, confFns ...func(*core.Config)) *app {
	t.Helper()
	noRateLimit := func(conf *core.Config) { conf.Server.LoginRateLimit = 0 }
	env := testutil.NewEnv(t, append([]func(*core.Config){noRateLimit}, confFns...)...)
	srv := echoapi.NewServer(&echoapi.Options{DisableReqLogs: true, Services: env.Services})
	return &app{Env: env, srv: srv}
}

// do serves a request; body is JSON-encoded unless it is already a []byte.
func (a *app) do(t *testing.T, method, path, token string, body ...interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if len(body) > 0 && body[0] != nil {
		if b, ok := body[0].([]byte); ok {
			data = b
		} else {
			data = marshalObj(t, body[0])
		}
	}
	req, rec := newAuthRequest(method, path, token, data)
	a.srv.ServeHTTP(rec, req)
	return rec
}

// user creates an active user with roles & returns it with a valid token.
func (a *app) user(t *testing.T, uname string, roles ...string) (user.User, string) {
	t.Helper()
	usr := testutil.CreateUser(t, a.Repos.Users, uname, uname, uname+"@cadenza.test", "", roles, true)
	return usr, getToken(t, a.Conf, usr)
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
	t.Helper()
	token, err := echoapi.GenerateToken(conf, echoapi.GetUserClaims(conf, usr))
	require.NoError(t, err, "getToken()")
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err, "marshalObj()")
	return data
}

func marshalList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	require.NoError(t, err, "marshalList()")
	return data
}

// decode unmarshals the response body into a T, after checking the status code.
func decode[T any](t *testing.T, rec *httptest.ResponseRecorder, wantCode int) T {
	t.Helper()
	var v T
	require.Equal(t, wantCode, rec.Code, "body: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
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
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
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

func runHTTPTests(t *testing.T, a *app, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			a.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/freieslabor/prepaid-mate/internal/api"
	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/security"
	"github.com/freieslabor/prepaid-mate/internal/service"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := db.NewBolt(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hasher, err := security.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	engine := service.NewEngine(store, hasher, service.Options{
		SuperuserSecret: testSecret,
		Timeout:         5 * time.Second,
		UnknownCodeTTL:  time.Minute,
	}, zap.NewNop())

	router := mux.NewRouter()
	api.SetupRoutes(router, engine, zap.NewNop())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func expect(t *testing.T, gotStatus int, gotBody string, wantStatus int, wantBody string) {
	t.Helper()
	if gotStatus != wantStatus || gotBody != wantBody {
		t.Fatalf("expected %d %q, got %d %q", wantStatus, wantBody, gotStatus, gotBody)
	}
}

func TestAccountLifecycle(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/account/create", url.Values{"name": {"foo"}, "password": {"bar"}, "code": {"123"}})
	expect(t, status, body, http.StatusOK, "ok")

	status, body = post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {"bar"}})
	expect(t, status, body, http.StatusOK, `["foo","123",0]`)

	status, body = post(t, srv, "/api/money/add", url.Values{"name": {"foo"}, "password": {"bar"}, "money": {"1000"}})
	expect(t, status, body, http.StatusOK, "ok")

	status, body = post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {"bar"}})
	expect(t, status, body, http.StatusOK, `["foo","123",1000]`)

	status, body = post(t, srv, "/api/money/view", url.Values{"name": {"foo"}, "password": {"bar"}})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d %q", status, body)
	}
	var history [][]interface{}
	if err := json.Unmarshal([]byte(body), &history); err != nil {
		t.Fatalf("invalid history JSON %q: %v", body, err)
	}
	if len(history) != 1 || len(history[0]) != 4 {
		t.Fatalf("unexpected history %v", history)
	}
	if history[0][0] != float64(1000) || history[0][1] != "Guthaben aufgeladen" || history[0][3] != "" {
		t.Fatalf("unexpected history entry %v", history[0])
	}
}

func TestPaymentFlow(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/api/account/create", url.Values{"name": {"foo"}, "password": {"bar"}, "code": {"123"}})
	post(t, srv, "/api/money/add", url.Values{"superuserpassword": {testSecret}, "account_code": {"123"}, "money": {"1000"}})

	status, body := post(t, srv, "/api/drink/create", url.Values{
		"superuserpassword": {testSecret}, "name": {"Cola"}, "content_ml": {"330"}, "price": {"150"}, "barcode": {"456"},
	})
	expect(t, status, body, http.StatusOK, "ok")

	pay := url.Values{"superuserpassword": {testSecret}, "account_code": {"123"}, "drink_barcode": {"456"}}
	status, body = post(t, srv, "/api/payment/perform", pay)
	expect(t, status, body, http.StatusOK, "850")

	pay.Set("superuserpassword", "nope")
	status, body = post(t, srv, "/api/payment/perform", pay)
	expect(t, status, body, http.StatusBadRequest, "Wrong superuserpassword")

	pay.Set("superuserpassword", testSecret)
	pay.Set("account_code", "999")
	status, body = post(t, srv, "/api/payment/perform", pay)
	expect(t, status, body, http.StatusBadRequest, "Barcode does not belong to an account")

	pay.Set("account_code", "123")
	pay.Set("drink_barcode", "999")
	status, body = post(t, srv, "/api/payment/perform", pay)
	expect(t, status, body, http.StatusBadRequest, "No such drink in database")
}

func TestInsufficientFunds(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/api/account/create", url.Values{"name": {"foo"}, "password": {"bar"}, "code": {"123"}})
	post(t, srv, "/api/money/add", url.Values{"name": {"foo"}, "password": {"bar"}, "money": {"50"}})
	post(t, srv, "/api/drink/create", url.Values{
		"superuserpassword": {testSecret}, "name": {"Cola"}, "price": {"150"}, "barcode": {"456"},
	})

	status, body := post(t, srv, "/api/payment/perform",
		url.Values{"superuserpassword": {testSecret}, "account_code": {"123"}, "drink_barcode": {"456"}})
	expect(t, status, body, http.StatusBadRequest, "Insufficient funds")

	status, body = post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {"bar"}})
	expect(t, status, body, http.StatusOK, `["foo","123",50]`)
}

func TestIncompleteRequests(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		path string
		form url.Values
	}{
		{"/api/account/create", url.Values{"name": {"foo"}, "code": {"123"}}},
		{"/api/account/create", url.Values{"name": {"foo"}, "password": {""}, "code": {"123"}}},
		{"/api/account/view", url.Values{"name": {"foo"}}},
		{"/api/account/code_exists", url.Values{}},
		{"/api/account/modify", url.Values{"superuserpassword": {testSecret}}},
		{"/api/money/add", url.Values{"name": {"foo"}, "password": {"bar"}}},
		{"/api/money/view", url.Values{"password": {"bar"}}},
		{"/api/payment/perform", url.Values{"superuserpassword": {testSecret}, "account_code": {"123"}}},
		{"/api/drink/create", url.Values{"superuserpassword": {testSecret}, "name": {"Cola"}}},
	}
	for _, c := range cases {
		status, body := post(t, srv, c.path, c.form)
		if status != http.StatusBadRequest || body != "Incomplete request" {
			t.Fatalf("%s %v: expected 400 Incomplete request, got %d %q", c.path, c.form, status, body)
		}
	}

	status, body := post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {""}})
	expect(t, status, body, http.StatusBadRequest, "No such account in database")
}

func TestModifyAccount(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/api/account/create", url.Values{"name": {"foo"}, "password": {"bar"}, "code": {"123"}})

	status, body := post(t, srv, "/api/account/modify", url.Values{"name": {"foo"}, "password": {"bar"}, "new_name": {""}})
	expect(t, status, body, http.StatusBadRequest, "Incomplete request")

	status, body = post(t, srv, "/api/account/modify", url.Values{"name": {"foo"}, "password": {"bar"}, "new_password": {"baz"}})
	expect(t, status, body, http.StatusOK, "ok")

	status, body = post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {"bar"}})
	expect(t, status, body, http.StatusBadRequest, "Wrong password")

	status, body = post(t, srv, "/api/account/modify",
		url.Values{"superuserpassword": {testSecret}, "account_code": {"123"}, "new_code": {"124"}})
	expect(t, status, body, http.StatusOK, "ok")

	status, body = post(t, srv, "/api/account/view", url.Values{"name": {"foo"}, "password": {"baz"}})
	expect(t, status, body, http.StatusOK, `["foo","124",0]`)
}

func TestCodeExistsAndLastUnknownCode(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/api/account/create", url.Values{"name": {"foo"}, "password": {"bar"}, "code": {"123"}})

	status, body := get(t, srv, "/api/last_unknown_code")
	expect(t, status, body, http.StatusOK, "")

	status, body = post(t, srv, "/api/account/code_exists", url.Values{"code": {"123"}})
	expect(t, status, body, http.StatusOK, `[true,"foo"]`)

	status, body = post(t, srv, "/api/account/code_exists", url.Values{"code": {"777"}})
	expect(t, status, body, http.StatusOK, `[false,null]`)

	status, body = get(t, srv, "/api/last_unknown_code")
	expect(t, status, body, http.StatusOK, "777")
}

func TestHealthAndRequestID(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload["status"] != "ok" {
		t.Fatalf("unexpected health payload %v: %v", payload, err)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id to be kept, got %q", got)
	}
}

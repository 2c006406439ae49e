package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dairyworks/milkbook/internal/auth"
	"github.com/dairyworks/milkbook/internal/httpapi"
	"github.com/dairyworks/milkbook/internal/session"
	"github.com/dairyworks/milkbook/internal/store/gormstore"
	"github.com/dairyworks/milkbook/pkg/billing"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSigningKey = "integration-signing-key"
	testAccountID  = "acct-integration"
	goodIDToken    = "good-id-token"
	loginPath      = "/api/login"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, rawToken string) (auth.Identity, error) {
	if rawToken != goodIDToken {
		return auth.Identity{}, errors.New("unknown id token")
	}
	return auth.Identity{AccountID: testAccountID, Email: "farm@example.com"}, nil
}

func newTestServer(test *testing.T) *httptest.Server {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	store := gormstore.New(db)
	if err := store.Migrate(); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	billingService, err := billing.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("billing service: %v", err)
	}
	issuer, err := session.NewTokenIssuer([]byte(testSigningKey), "milkbook", time.Hour, nil)
	if err != nil {
		test.Fatalf("token issuer: %v", err)
	}
	writer := session.NewWriter(store, session.NewHub())
	server, err := httpapi.New(httpapi.Config{
		SessionSigningKey: testSigningKey,
	}, billingService, store, writer, issuer, stubVerifier{}, nil)
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	testServer := httptest.NewServer(server.Router())
	test.Cleanup(testServer.Close)
	return testServer
}

func login(test *testing.T, server *httptest.Server) string {
	test.Helper()
	body, status := doJSON(test, server, http.MethodPost, loginPath, "", map[string]any{"id_token": goodIDToken})
	if status != http.StatusOK {
		test.Fatalf("login failed with status %d: %s", status, body)
	}
	var payload struct {
		AccountID string `json:"account_id"`
		DeviceID  string `json:"device_id"`
		Token     string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		test.Fatalf("decode login response: %v", err)
	}
	if payload.AccountID != testAccountID || payload.DeviceID == "" || payload.Token == "" {
		test.Fatalf("unexpected login payload: %+v", payload)
	}
	return payload.Token
}

func doJSON(test *testing.T, server *httptest.Server, method string, path string, token string, payload any) ([]byte, int) {
	test.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		test.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = response.Body.Close() }()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		test.Fatalf("read response: %v", err)
	}
	return buffer.Bytes(), response.StatusCode
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)

	body, status := doJSON(test, server, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", status, body)
	}
}

func TestLoginRejectsUnknownIDToken(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)

	body, status := doJSON(test, server, http.MethodPost, loginPath, "", map[string]any{"id_token": "forged"})
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d: %s", status, body)
	}
}

func TestAPIRequiresSession(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)

	body, status := doJSON(test, server, http.MethodGet, "/api/customers", "", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 without a session, got %d: %s", status, body)
	}

	body, status = doJSON(test, server, http.MethodGet, "/api/customers", "garbage-token", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("expected 401 with a bad token, got %d: %s", status, body)
	}
}

func TestUnauthenticatedBrowserRedirectsToLogin(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)

	request, err := http.NewRequest(http.MethodGet, server.URL+"/api/customers", nil)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Accept", "text/html")
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	response, err := client.Do(request)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusFound {
		test.Fatalf("expected 302 redirect, got %d", response.StatusCode)
	}
	if location := response.Header.Get("Location"); location != "/login.html" {
		test.Fatalf("expected redirect to /login.html, got %q", location)
	}
}

func TestCustomerEntryBillFlow(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	token := login(test, server)

	body, status := doJSON(test, server, http.MethodPut, "/api/customers/cust-1", token, map[string]any{
		"name":     "Ramesh",
		"metadata": map[string]any{"village": "north"},
	})
	if status != http.StatusOK {
		test.Fatalf("upsert customer: %d: %s", status, body)
	}

	for _, seed := range []struct {
		date string
		kg   float64
		rate float64
	}{
		{date: "2026-03-01", kg: 10, rate: 40},
		{date: "2026-03-02", kg: 12, rate: 40},
	} {
		path := fmt.Sprintf("/api/customers/cust-1/entries/%s", seed.date)
		body, status = doJSON(test, server, http.MethodPut, path, token, map[string]any{"kg": seed.kg, "rate": seed.rate})
		if status != http.StatusOK {
			test.Fatalf("upsert entry %s: %d: %s", seed.date, status, body)
		}
	}

	body, status = doJSON(test, server, http.MethodGet, "/api/customers/cust-1/entries?from=2026-03-01&to=2026-03-31", token, nil)
	if status != http.StatusOK {
		test.Fatalf("list entries: %d: %s", status, body)
	}
	var entriesEnvelope struct {
		Entries []struct {
			Date  string  `json:"date"`
			Total float64 `json:"total"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(body, &entriesEnvelope); err != nil {
		test.Fatalf("decode entries: %v", err)
	}
	if len(entriesEnvelope.Entries) != 2 || entriesEnvelope.Entries[0].Total != 400 {
		test.Fatalf("unexpected entries: %+v", entriesEnvelope.Entries)
	}

	body, status = doJSON(test, server, http.MethodPost, "/api/customers/cust-1/bills", token, map[string]any{
		"from": "2026-03-01", "to": "2026-03-31", "total": 880.0,
	})
	if status != http.StatusOK {
		test.Fatalf("create bill: %d: %s", status, body)
	}
	var bill struct {
		BillID string  `json:"bill_id"`
		Status string  `json:"status"`
		Total  float64 `json:"total"`
	}
	if err := json.Unmarshal(body, &bill); err != nil {
		test.Fatalf("decode bill: %v", err)
	}
	if bill.BillID != "BILL-20260301-20260331" || bill.Status != "pending" {
		test.Fatalf("unexpected bill: %+v", bill)
	}

	paymentPath := fmt.Sprintf("/api/customers/cust-1/bills/%s/payments", bill.BillID)
	body, status = doJSON(test, server, http.MethodPost, paymentPath, token, map[string]any{"amount": 380.0})
	if status != http.StatusOK {
		test.Fatalf("add payment: %d: %s", status, body)
	}
	var afterPayment struct {
		Status    string  `json:"status"`
		Remaining float64 `json:"remaining"`
	}
	if err := json.Unmarshal(body, &afterPayment); err != nil {
		test.Fatalf("decode payment response: %v", err)
	}
	if afterPayment.Status != "loading" || afterPayment.Remaining != 500 {
		test.Fatalf("unexpected payment result: %+v", afterPayment)
	}

	body, status = doJSON(test, server, http.MethodPost, paymentPath, token, map[string]any{"amount": 600.0})
	if status != http.StatusConflict {
		test.Fatalf("expected 409 for overpayment, got %d: %s", status, body)
	}

	body, status = doJSON(test, server, http.MethodGet, "/api/customers/cust-1/locked-dates?from=2026-02-25&to=2026-03-05", token, nil)
	if status != http.StatusOK {
		test.Fatalf("locked dates: %d: %s", status, body)
	}
	var lockedEnvelope struct {
		LockedDates []string `json:"locked_dates"`
	}
	if err := json.Unmarshal(body, &lockedEnvelope); err != nil {
		test.Fatalf("decode locked dates: %v", err)
	}
	if len(lockedEnvelope.LockedDates) != 5 || lockedEnvelope.LockedDates[0] != "2026-03-01" {
		test.Fatalf("unexpected locked dates: %v", lockedEnvelope.LockedDates)
	}
}

func TestPaymentAgainstUnknownBill(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	token := login(test, server)

	body, status := doJSON(test, server, http.MethodPost, "/api/customers/cust-1/bills/BILL-20260101-20260131/payments", token, map[string]any{"amount": 10.0})
	if status != http.StatusNotFound {
		test.Fatalf("expected 404, got %d: %s", status, body)
	}
}

func TestInvalidDateIsBadRequest(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	token := login(test, server)

	body, status := doJSON(test, server, http.MethodPut, "/api/customers/cust-1/entries/tomorrow", token, map[string]any{"kg": 10.0, "rate": 40.0})
	if status != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d: %s", status, body)
	}
}

func TestLogoutClearsCookie(test *testing.T) {
	test.Parallel()
	server := newTestServer(test)
	token := login(test, server)

	body, status := doJSON(test, server, http.MethodPost, "/api/logout", token, nil)
	if status != http.StatusOK {
		test.Fatalf("logout: %d: %s", status, body)
	}
}

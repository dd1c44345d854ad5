package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"papelflow/internal/aggregate"
	"papelflow/internal/core"
	"papelflow/internal/events"
	"papelflow/internal/services"
	"papelflow/internal/storage/memory"

	"github.com/shopspring/decimal"
)

type testAPI struct {
	srv      *Server
	recorder *events.Recorder
}

func newTestAPI(t *testing.T, perm services.Permission) *testAPI {
	t.Helper()
	store := memory.New()
	recorder := &events.Recorder{}
	insights := services.NewInsightsService(store, 32, time.Hour)
	publisher := events.Multi{recorder, insights}
	ledger := services.NewLedgerService(store, publisher)
	srv := NewServer(":0", Services{
		Ledger:    ledger,
		Scheduler: services.NewScheduler(store, ledger, publisher, services.SchedulerConfig{}),
		Reminders: services.NewReminderGate(store, publisher, services.ReminderConfig{}),
		Insights:  insights,
	}, Options{RateLimitPerMinute: 1000, Notifications: perm})
	srv.now = func() time.Time { return time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testAPI{srv: srv, recorder: recorder}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) mustDo(t *testing.T, method, path, body string, want int) *httptest.ResponseRecorder {
	t.Helper()
	rr := a.do(t, method, path, body)
	if rr.Code != want {
		t.Fatalf("%s %s: status = %d, want %d; body=%s", method, path, rr.Code, want, rr.Body.String())
	}
	return rr
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	if env.Status != "success" {
		t.Fatalf("status = %q", env.Status)
	}
	return env.Data
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return e
}

func (a *testAPI) account(t *testing.T, id, opening string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"name":%q,"kind":"checking","currency":"usd","opening_balance":%q}`, id, id, opening)
	a.mustDo(t, http.MethodPost, "/v1/accounts", body, http.StatusCreated)
}

func (a *testAPI) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc := decodeData[core.Account](t, a.mustDo(t, http.MethodGet, "/v1/accounts/"+id, "", http.StatusOK))
	return acc.Balance
}

func TestHealthAndRequestID(t *testing.T) {
	api := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rr := httptest.NewRecorder()
	api.srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("X-Request-ID = %q, want req-1", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestLedgerFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	api.account(t, "checking", "1000")
	api.account(t, "savings", "0")

	rr := api.mustDo(t, http.MethodPost, "/v1/transactions",
		`{"id":"t1","kind":"transfer","amount":"250.50","date":"2026-02-02","account_id":"checking","destination_account_id":"savings"}`,
		http.StatusCreated)
	tx := decodeData[core.Transaction](t, rr)
	if tx.Status != core.StatusPosted {
		t.Fatalf("status = %s, want posted", tx.Status)
	}

	api.mustDo(t, http.MethodPost, "/v1/transactions",
		`{"id":"t2","kind":"expense","amount":"49.50","date":"2026-02-03","account_id":"checking","category_id":"groceries"}`,
		http.StatusCreated)

	if got := api.balance(t, "checking"); !got.Equal(decimal.RequireFromString("700")) {
		t.Fatalf("checking = %s, want 700", got)
	}
	if got := api.balance(t, "savings"); !got.Equal(decimal.RequireFromString("250.5")) {
		t.Fatalf("savings = %s, want 250.5", got)
	}

	list := decodeData[[]core.Transaction](t, api.mustDo(t, http.MethodGet, "/v1/transactions?account_id=savings", "", http.StatusOK))
	if len(list) != 1 || list[0].ID != "t1" {
		t.Fatalf("savings transactions = %+v", list)
	}

	v := decodeData[services.Verification](t, api.mustDo(t, http.MethodGet, "/v1/accounts/checking/verify", "", http.StatusOK))
	if !v.Consistent {
		t.Fatalf("verification = %+v", v)
	}

	api.mustDo(t, http.MethodDelete, "/v1/transactions/t1", "", http.StatusNoContent)
	api.mustDo(t, http.MethodDelete, "/v1/transactions/t1", "", http.StatusNoContent)
	if got := api.balance(t, "savings"); !got.IsZero() {
		t.Fatalf("savings after delete = %s, want 0", got)
	}

	posted := api.recorder.OfType(events.TransactionPosted)
	deleted := api.recorder.OfType(events.TransactionDeleted)
	if len(posted) != 2 || len(deleted) != 1 {
		t.Errorf("events posted=%d deleted=%d, want 2 and 1", len(posted), len(deleted))
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	api.account(t, "checking", "100")
	api.mustDo(t, http.MethodPost, "/v1/transactions",
		`{"id":"dup","kind":"income","amount":"10","date":"2026-02-01","account_id":"checking","category_id":"salary"}`,
		http.StatusCreated)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
		field  string
	}{
		{"malformed json", http.MethodPost, "/v1/transactions", `{"kind":`, 400, "VALIDATION_ERROR", "body"},
		{"unknown field", http.MethodPost, "/v1/transactions", `{"colour":"red"}`, 400, "VALIDATION_ERROR", "body"},
		{"negative amount", http.MethodPost, "/v1/transactions", `{"kind":"expense","amount":"-5","date":"2026-02-01","account_id":"checking"}`, 400, "VALIDATION_ERROR", "amount"},
		{"bad date", http.MethodPost, "/v1/transactions", `{"kind":"expense","amount":"5","date":"02/01/2026","account_id":"checking"}`, 400, "VALIDATION_ERROR", "date"},
		{"unknown kind", http.MethodPost, "/v1/transactions", `{"kind":"gift","amount":"5","date":"2026-02-01","account_id":"checking"}`, 400, "VALIDATION_ERROR", "kind"},
		{"unknown account", http.MethodPost, "/v1/transactions", `{"kind":"expense","amount":"5","date":"2026-02-01","account_id":"ghost","category_id":"x"}`, 404, "NOT_FOUND", ""},
		{"replayed id", http.MethodPost, "/v1/transactions", `{"id":"dup","kind":"income","amount":"10","date":"2026-02-01","account_id":"checking","category_id":"salary"}`, 409, "CONFLICT", ""},
		{"repair posted transaction", http.MethodPost, "/v1/transactions/dup/repair", "", 400, "VALIDATION_ERROR", ""},
		{"missing account", http.MethodGet, "/v1/accounts/ghost", "", 404, "NOT_FOUND", ""},
		{"bad month", http.MethodGet, "/v1/stats/monthly?month=2026-13", "", 400, "VALIDATION_ERROR", "month"},
		{"bad status filter", http.MethodGet, "/v1/transactions?status=done", "", 400, "VALIDATION_ERROR", "status"},
		{"unknown obligation paid", http.MethodPost, "/v1/obligations/ghost/paid", "", 404, "NOT_FOUND", ""},
		{"active flag missing", http.MethodPut, "/v1/obligations/ghost/active", `{}`, 400, "VALIDATION_ERROR", "active"},
		{"unknown route", http.MethodGet, "/v1/nothing", "", 404, "NOT_FOUND", ""},
		{"wrong method", http.MethodPatch, "/v1/accounts", "", 405, "METHOD_NOT_ALLOWED", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.mustDo(t, tt.method, tt.path, tt.body, tt.status)
			e := decodeError(t, rr)
			if e.Code != tt.code {
				t.Errorf("code = %s, want %s", e.Code, tt.code)
			}
			if tt.field != "" && e.Field != tt.field {
				t.Errorf("field = %q, want %q", e.Field, tt.field)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.Invalid("amount", "bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{core.NotFound("account", "x"), http.StatusNotFound, "NOT_FOUND"},
		{core.Conflict("transaction", "x"), http.StatusConflict, "CONFLICT"},
		{&core.PartialFailure{TransactionID: "x", Stage: "confirm", Err: errors.New("boom")}, http.StatusInternalServerError, "PENDING_REPAIR"},
		{core.Transient("get account", errors.New("db down")), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{errors.New("surprise"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code := statusFor(fmt.Errorf("wrapped: %w", tt.err))
		if status != tt.status || code != tt.code {
			t.Errorf("statusFor(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestSchedulerAndReminders(t *testing.T) {
	api := newTestAPI(t, services.Granted)
	api.account(t, "checking", "500")
	api.mustDo(t, http.MethodPost, "/v1/obligations",
		`{"id":"rent","name":"Rent","amount":"300","frequency":"monthly","next_due":"2026-02-03","category_id":"housing","account_id":"checking"}`,
		http.StatusCreated)
	api.mustDo(t, http.MethodPost, "/v1/obligations",
		`{"id":"gym","name":"Gym","amount":"20","frequency":"weekly","next_due":"2026-02-05","category_id":"health","account_id":"checking"}`,
		http.StatusCreated)

	reminders := decodeData[batchResult[services.Reminder]](t, api.mustDo(t, http.MethodGet, "/v1/reminders?date=2026-02-03", "", http.StatusOK))
	if len(reminders.Items) != 2 {
		t.Fatalf("reminders = %+v, want 2", reminders.Items)
	}
	again := decodeData[batchResult[services.Reminder]](t, api.mustDo(t, http.MethodGet, "/v1/reminders?date=2026-02-03", "", http.StatusOK))
	if len(again.Items) != 0 {
		t.Fatalf("second check fired %d", len(again.Items))
	}

	run := decodeData[batchResult[core.Transaction]](t, api.mustDo(t, http.MethodPost, "/v1/scheduler/run?date=2026-02-03", "", http.StatusOK))
	if len(run.Items) != 1 || run.Items[0].ObligationID != "rent" || len(run.Failures) != 0 {
		t.Fatalf("run = %+v", run)
	}
	rerun := decodeData[batchResult[core.Transaction]](t, api.mustDo(t, http.MethodPost, "/v1/scheduler/run?date=2026-02-03", "", http.StatusOK))
	if len(rerun.Items) != 0 {
		t.Fatalf("rerun materialized %d", len(rerun.Items))
	}
	if got := api.balance(t, "checking"); !got.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("checking = %s, want 200", got)
	}

	paid := decodeData[core.Transaction](t, api.mustDo(t, http.MethodPost, "/v1/obligations/gym/paid?date=2026-02-03", "", http.StatusCreated))
	if paid.ObligationID != "gym" {
		t.Fatalf("paid = %+v", paid)
	}

	api.mustDo(t, http.MethodPut, "/v1/obligations/gym/active", `{"active":false}`, http.StatusOK)
	active := decodeData[[]core.RecurringObligation](t, api.mustDo(t, http.MethodGet, "/v1/obligations?active=true", "", http.StatusOK))
	if len(active) != 1 || active[0].ID != "rent" {
		t.Fatalf("active obligations = %+v", active)
	}
}

func TestRemindersWithoutPermission(t *testing.T) {
	api := newTestAPI(t, nil)
	api.account(t, "checking", "500")
	api.mustDo(t, http.MethodPost, "/v1/obligations",
		`{"name":"Rent","amount":"300","frequency":"monthly","next_due":"2026-02-03","category_id":"housing","account_id":"checking"}`,
		http.StatusCreated)

	res := decodeData[batchResult[services.Reminder]](t, api.mustDo(t, http.MethodGet, "/v1/reminders", "", http.StatusOK))
	if len(res.Items) != 0 {
		t.Fatalf("reminders fired without permission: %+v", res.Items)
	}
	if n := len(api.recorder.OfType(events.ReminderDue)); n != 0 {
		t.Fatalf("reminder events = %d", n)
	}
}

func TestInsightsEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	api.account(t, "checking", "0")
	for _, body := range []string{
		`{"kind":"income","amount":"2000","date":"2026-02-01","account_id":"checking","category_id":"salary"}`,
		`{"kind":"expense","amount":"150","date":"2026-02-02","account_id":"checking","category_id":"groceries"}`,
	} {
		api.mustDo(t, http.MethodPost, "/v1/transactions", body, http.StatusCreated)
	}
	api.mustDo(t, http.MethodPost, "/v1/budgets", `{"category_id":"groceries","amount":"100","month":"2026-02"}`, http.StatusCreated)
	api.mustDo(t, http.MethodPost, "/v1/budgets", `{"category_id":"groceries","amount":"100","month":"2026-02"}`, http.StatusConflict)
	api.mustDo(t, http.MethodPost, "/v1/goals", `{"name":"Holiday","target":"1000","current":"250"}`, http.StatusCreated)

	stats := decodeData[aggregate.MonthlyStatsResult](t, api.mustDo(t, http.MethodGet, "/v1/stats/monthly?month=2026-02", "", http.StatusOK))
	if !stats.NetFlow.Equal(decimal.RequireFromString("1850")) {
		t.Errorf("net flow = %s, want 1850", stats.NetFlow)
	}

	lines := decodeData[[]aggregate.BudgetLine](t, api.mustDo(t, http.MethodGet, "/v1/budgets/adherence", "", http.StatusOK))
	if len(lines) != 1 || lines[0].Status != aggregate.BudgetOverLimit {
		t.Errorf("adherence = %+v", lines)
	}

	fc := decodeData[aggregate.Forecast](t, api.mustDo(t, http.MethodGet, "/v1/forecast?date=2026-02-03", "", http.StatusOK))
	if fc.DaysRemaining != 25 {
		t.Errorf("days remaining = %d, want 25", fc.DaysRemaining)
	}

	h := decodeData[aggregate.HealthScoreResult](t, api.mustDo(t, http.MethodGet, "/v1/health-score", "", http.StatusOK))
	if h.Budget != 0 || h.Rating == "" {
		t.Errorf("health = %+v", h)
	}

	goals := decodeData[[]core.Goal](t, api.mustDo(t, http.MethodGet, "/v1/goals", "", http.StatusOK))
	if len(goals) != 1 {
		t.Errorf("goals = %+v", goals)
	}
}

func TestRateLimit(t *testing.T) {
	store := memory.New()
	ledger := services.NewLedgerService(store, nil)
	srv := NewServer(":0", Services{Ledger: ledger}, Options{RateLimitPerMinute: 2})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/accounts", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	// Health checks are not limited.
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
}

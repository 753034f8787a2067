package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/clients"
	"github.com/libranexus/lending/internal/config"
	"github.com/libranexus/lending/internal/events"
	"github.com/libranexus/lending/internal/notification"
	"github.com/libranexus/lending/internal/promotion"
	"github.com/libranexus/lending/internal/store/memory"
)

type fakeVolumes struct{}

func (fakeVolumes) GetVolume(_ context.Context, id string) (clients.Volume, error) {
	if id != "vol-dune" {
		return clients.Volume{}, clients.ErrVolumeNotFound
	}
	return clients.Volume{ID: id, Title: "Dune", Authors: []string{"Frank Herbert"}, ISBN13: "9780441013593"}, nil
}

func (fakeVolumes) Search(context.Context, string, int) ([]clients.Volume, error) {
	return []clients.Volume{{ID: "vol-dune", Title: "Dune"}}, nil
}

type creds struct{ email, password string }

type harness struct {
	t     *testing.T
	srv   *httptest.Server
	stack *Stack
	st    *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Store = "memory"
	cfg.AuthBurst = 1000
	cfg.AuthRPS = 1000

	st := memory.New()
	stack := NewStack(cfg, st, fakeVolumes{}, Local, nil)
	srv := httptest.NewServer(NewRouter(stack.Services, 5*time.Second))
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, stack: stack, st: st}
}

func (h *harness) do(method, path string, who *creds, body any) (int, map[string]any) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != nil {
		req.SetBasicAuth(who.email, who.password)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	} else if len(raw) > 0 {
		out["items"] = json.RawMessage(raw)
	}
	return resp.StatusCode, out
}

func (h *harness) register(email, name string) *creds {
	h.t.Helper()
	c := &creds{email: email, password: "correct horse battery"}
	status, body := h.do(http.MethodPost, "/members", nil, map[string]string{
		"email": email, "name": name, "password": c.password,
	})
	require.Equal(h.t, http.StatusCreated, status, body)
	return c
}

func (h *harness) settle() {
	h.stack.Dispatcher.(*promotion.LocalDispatcher).Wait()
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func nested(body map[string]any, key, field string) string {
	m, _ := body[key].(map[string]any)
	v, _ := m[field].(string)
	return v
}

func TestHealthAndAuth(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = h.do(http.MethodGet, "/loans", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	h.register("ada@example.org", "Ada")
	status, _ = h.do(http.MethodGet, "/members/me", &creds{email: "ada@example.org", password: "wrong password"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = h.do(http.MethodPost, "/members", nil, map[string]string{
		"email": "ADA@example.org", "name": "Ada again", "password": "another password",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "EMAIL_TAKEN", errorCode(body))

	status, body = h.do(http.MethodPost, "/members", nil, map[string]string{"email": "not-an-email", "name": "x", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestLendingFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	librarian := h.register("librarian@example.org", "Librarian")
	alice := h.register("alice@example.org", "Alice")
	bob := h.register("bob@example.org", "Bob")

	_, me := h.do(http.MethodGet, "/members/me", librarian, nil)
	assert.Equal(t, "librarian", me["role"])
	_, me = h.do(http.MethodGet, "/members/me", alice, nil)
	assert.Equal(t, "member", me["role"])

	status, body := h.do(http.MethodPost, "/books/import", alice, map[string]string{"volume_id": "vol-dune"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, book := h.do(http.MethodPost, "/books/import", librarian, map[string]string{"volume_id": "vol-dune"})
	require.Equal(t, http.StatusCreated, status, book)
	bookID := book["id"].(string)
	status, _ = h.do(http.MethodPost, "/books/import", librarian, map[string]string{"volume_id": "vol-dune"})
	assert.Equal(t, http.StatusOK, status)

	status, stock := h.do(http.MethodPatch, "/books/"+bookID+"/stock", librarian, map[string]int{"delta": 1})
	require.Equal(t, http.StatusOK, status, stock)
	assert.EqualValues(t, 1, stock["available_copies"])

	status, loan := h.do(http.MethodPost, "/loans", alice, map[string]string{"book_id": bookID})
	require.Equal(t, http.StatusCreated, status, loan)
	assert.Equal(t, "LOAN_CREATED", loan["code"])
	loanID := nested(loan, "loan", "id")

	status, wait := h.do(http.MethodPost, "/loans", bob, map[string]string{"book_id": bookID})
	require.Equal(t, http.StatusAccepted, status, wait)
	assert.Equal(t, "ADDED_TO_WAITLIST", wait["code"])
	entryID := nested(wait, "waitlist", "id")

	status, body = h.do(http.MethodPost, "/loans/"+loanID+"/renew", alice, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "WAITLIST_EXISTS", errorCode(body))

	status, body = h.do(http.MethodPost, "/loans/"+loanID+"/return", bob, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "LOAN_NOT_FOUND", errorCode(body))

	status, returned := h.do(http.MethodPost, "/loans/"+loanID+"/return", alice, nil)
	require.Equal(t, http.StatusOK, status, returned)
	assert.Equal(t, "RETURNED", returned["status"])
	h.settle()

	status, entry := h.do(http.MethodGet, "/waitlist/"+entryID, bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "HELD", entry["status"])

	status, confirmed := h.do(http.MethodPost, "/waitlist/"+entryID+"/confirm", bob, nil)
	require.Equal(t, http.StatusCreated, status, confirmed)
	assert.Equal(t, "LOAN_CREATED", confirmed["code"])

	status, stock = h.do(http.MethodGet, "/books/"+bookID+"/stock", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, stock["available_copies"])
	assert.EqualValues(t, 0, stock["reserved_copies"])
	assert.EqualValues(t, 1, stock["on_loan"])

	status, history := h.do(http.MethodGet, "/loans/"+loanID+"/history", alice, nil)
	require.Equal(t, http.StatusOK, status)
	var evs []map[string]any
	require.NoError(t, json.Unmarshal(history["items"].(json.RawMessage), &evs))
	require.Len(t, evs, 2)
	assert.Equal(t, "loan.created", evs[0]["type"])
	assert.Equal(t, "loan.returned", evs[1]["type"])

	relay := events.NewRelay(h.st, time.Second, 100, notification.NewSink(h.stack.Services.Notifications))
	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Positive(t, n)

	status, notes := h.do(http.MethodGet, "/notifications?unread=true", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Positive(t, notes["count"])
	status, readAll := h.do(http.MethodPost, "/notifications/read-all", bob, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Positive(t, readAll["updated"])

	status, report := h.do(http.MethodGet, "/reports/me", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, report["total_books_read"])

	status, _ = h.do(http.MethodGet, "/reports/library", alice, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, lib := h.do(http.MethodGet, "/reports/library", librarian, nil)
	require.Equal(t, http.StatusOK, status)
	stats := lib["stats"].(map[string]any)
	assert.EqualValues(t, 3, stats["total_members"])
	assert.EqualValues(t, 2, stats["total_loans"])

	status, failed := h.do(http.MethodGet, "/admin/failed-tasks", librarian, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, failed["count"])
}

func TestBadPathParameter(t *testing.T) {
	h := newHarness(t)
	user := h.register("carol@example.org", "Carol")

	status, body := h.do(http.MethodGet, "/loans/not-a-uuid", user, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func checkoutRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresKeyHeader(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))

	var reached bool
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(`{"items":[]}`, ""))

	if reached {
		t.Fatal("handler ran without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewareReplaysCheckoutResponse(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))

	var calls int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_01"}`))
	}))

	const body = `{"items":[{"productId":"prd_1","qty":2}]}`

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(body, "co-retry-1"))
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(body, "co-retry-1"))
	if calls != 1 {
		t.Fatalf("handler ran again on replay, calls = %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Fatal("replay header missing")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replay content-type = %q", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay body = %s, want %s", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testNow }))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(`{"items":[{"productId":"prd_1","qty":1}]}`, "shared-key"))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(`{"items":[{"productId":"prd_2","qty":9}]}`, "shared-key"))
	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
	if code := decodeErrorCode(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewarePendingKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	mw := Middleware(store, WithClock(func() time.Time { return testNow }))
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	req := checkoutRequest(`{"items":[]}`, "in-flight")
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	requester := requesterID(req.Context())
	fingerprint := fingerprintRequest(req, body, requester)
	if _, err := store.Reserve(req.Context(), "in-flight|"+requester, fingerprint, testNow, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("error = %q", code)
	}
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &flakyStore{failSave: true}
	mw := Middleware(store, WithClock(func() time.Time { return testNow }))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_02"}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(`{"items":[]}`, "doomed"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("error = %q", code)
	}
	if !store.released {
		t.Fatal("reservation was not released after the save failure")
	}
}

func TestMiddlewareExpiredKeyReservesAgain(t *testing.T) {
	store := NewMemoryStore()
	now := testNow
	mw := Middleware(store, WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	var calls int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest(`{"items":[]}`, "short-lived"))
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	now = now.Add(2 * time.Minute)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest(`{"items":[]}`, "short-lived"))
	if calls != 2 {
		t.Fatalf("expired key did not re-run handler, calls = %d", calls)
	}
	if second.Header().Get(replayHeader) == "true" {
		t.Fatal("expired key must not replay the stale response")
	}
}

type flakyStore struct {
	failSave bool
	released bool
}

func (s *flakyStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *flakyStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *flakyStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *flakyStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

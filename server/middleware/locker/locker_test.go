package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/xpdacq/acq/generichttp"
	"github.com/xpdacq/acq/server/middleware/locker"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func router(l *locker.Locker) http.Handler {
	rt := table{
		{Method: http.MethodGet, Path: "/shutter"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	locker.Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.RT().Bind(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestLockedRoutesReturn423(t *testing.T) {
	l := locker.New()
	h := router(l)
	if w := do(t, h, http.MethodGet, "/shutter", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 while unlocked, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/lock", `{"bool": true}`); w.Code != http.StatusOK {
		t.Fatalf("expected lock to succeed, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/shutter", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", w.Code)
	}
	w := do(t, h, http.MethodGet, "/lock", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "true") {
		t.Errorf("expected lock state true, got %d %s", w.Code, w.Body.String())
	}
	do(t, h, http.MethodPost, "/lock", `{"bool": false}`)
	if w := do(t, h, http.MethodGet, "/shutter", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", w.Code)
	}
}

func TestTryLock(t *testing.T) {
	l := locker.New()
	if !l.TryLock() {
		t.Fatal("expected first TryLock to succeed")
	}
	if l.TryLock() {
		t.Error("expected second TryLock to fail")
	}
	l.Unlock()
	if l.Locked() {
		t.Error("expected unlocked after Unlock")
	}
}

func TestBadLockBody(t *testing.T) {
	h := router(locker.New())
	if w := do(t, h, http.MethodPost, "/lock", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", w.Code)
	}
}

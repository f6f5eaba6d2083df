package generichttp_test

import (
	"go/types"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xpdacq/acq/generichttp"
)

func TestEncodeAndRespondKinds(t *testing.T) {
	cases := []struct {
		hp   generichttp.HumanPayload
		code int
		body string
	}{
		{generichttp.HumanPayload{T: types.Float64, Float: 0.5}, http.StatusOK, `{"f64":0.5}`},
		{generichttp.HumanPayload{T: types.String, String: "fs"}, http.StatusOK, `{"str":"fs"}`},
		{generichttp.HumanPayload{T: types.Bool, Bool: true}, http.StatusOK, `{"bool":true}`},
		{generichttp.HumanPayload{T: types.Int}, http.StatusInternalServerError, "not encodable"},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != c.code {
			t.Errorf("kind %v: expected %d, got %d", c.hp.T, c.code, w.Code)
		}
		if !strings.Contains(w.Body.String(), c.body) {
			t.Errorf("kind %v: expected body to contain %s, got %s", c.hp.T, c.body, w.Body.String())
		}
	}
}

func TestSetFloatRejectsBadBody(t *testing.T) {
	var got float64
	h := generichttp.SetFloat(func(f float64) error {
		got = f
		return nil
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f64": "x"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f64": 0.2}`)))
	if w.Code != http.StatusOK || got != 0.2 {
		t.Errorf("expected 200 and 0.2, got %d and %v", w.Code, got)
	}
}

package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	var got string
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/user/{id}/roles", func(w http.ResponseWriter, req *http.Request) {
		got = CanonicalPath(req)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/user/42/roles", nil))
	if got != "/api/v1/user/{id}/roles" {
		t.Fatalf("CanonicalPath=%q", got)
	}

	if p := CanonicalPath(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); p != "unmatched" {
		t.Fatalf("CanonicalPath outside router=%q", p)
	}
}

func TestInstrumentCountsByTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Instrument)
	r.HandleFunc("/api/v1/role/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/role/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/role/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/role/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("expected 3 requests counted under one label, got %v", after-before)
	}
}

func TestObserveLogin(t *testing.T) {
	before := testutil.ToFloat64(loginTotal.WithLabelValues("ok"))
	ObserveLogin("ok")
	if got := testutil.ToFloat64(loginTotal.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("login counter=%v want %v", got, before+1)
	}
}

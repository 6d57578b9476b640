package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer k" {
				t.Errorf("missing auth header")
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", r.Header.Get("Content-Type"))
			}
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
		}))
		defer srv.Close()

		h := http.Header{}
		h.Set("Authorization", "Bearer k")

		var out map[string]string
		err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, h, map[string]string{"name": "polly"}, &out)
		if err != nil {
			t.Fatalf("DoJSON: %v", err)
		}
		if out["echo"] != "polly" {
			t.Errorf("echo = %q", out["echo"])
		}
	})

	t.Run("status error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		}))
		defer srv.Close()

		err := DoJSON(context.Background(), srv.Client(), http.MethodDelete, srv.URL, nil, nil, nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %v", err)
		}
		if se.StatusCode != http.StatusUnauthorized || se.Body != "nope" {
			t.Errorf("StatusError = %+v", se)
		}
	})
}

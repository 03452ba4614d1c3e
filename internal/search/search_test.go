package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vantagesec/vantage/internal/observability"
)

func TestSearchRetriesWithoutCountryHint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if _, hasCountry := body["country"]; hasCountry {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"invalid_country_code"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []Result{{Title: "CVE-2024-1234", URL: "https://nvd.nist.gov/x", Description: "advisory"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "XX", observability.NewNopLogger())
	results, err := c.Search(context.Background(), "CVE-2024-1234")
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry without hint)", calls.Load())
	}
	if len(results) != 1 || results[0].Title != "CVE-2024-1234" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchOtherErrorsAbort(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"internal"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "US", observability.NewNopLogger())
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatal("server error should surface")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on other errors)", calls.Load())
	}
}

func TestFormatResults(t *testing.T) {
	got := FormatResults("nmap flags", []Result{
		{Title: "Nmap reference", URL: "https://nmap.org/book", Description: "flag guide"},
	})
	for _, want := range []string{"nmap flags", "1. Nmap reference", "https://nmap.org/book"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted output missing %q:\n%s", want, got)
		}
	}

	empty := FormatResults("q", nil)
	if !strings.Contains(empty, "(no results)") {
		t.Errorf("empty results output = %q", empty)
	}
}

package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsPrivate(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":      true,
		"10.1.2.3":       true,
		"192.168.0.10":   true,
		"172.16.5.5":     true,
		"169.254.1.1":    true,
		"::1":            true,
		"":               true,
		"not-an-ip":      true,
		"8.8.8.8":        false,
		"203.0.113.7":    false,
		"2001:4860::8":   false,
	}
	for ip, want := range cases {
		if got := IsPrivate(ip); got != want {
			t.Fatalf("IsPrivate(%q)=%v, want %v", ip, got, want)
		}
	}
}

func TestHTTPResolverPrivateBypassesNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	r, err := NewHTTPResolver(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	loc, err := r.Resolve(context.Background(), "192.168.1.20")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc == nil || loc.Country != "Local" {
		t.Fatalf("expected Local placeholder, got %+v", loc)
	}
	if called {
		t.Fatalf("private address must not hit the provider")
	}
}

func TestHTTPResolverSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/203.0.113.7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","country":"Uganda","countryCode":"UG","regionName":"Central","city":"Kampala","lat":0.3476,"lon":32.5825,"timezone":"Africa/Kampala"}`))
	}))
	defer srv.Close()

	r, err := NewHTTPResolver(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	loc, err := r.Resolve(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.City != "Kampala" || loc.CountryCode != "UG" {
		t.Fatalf("unexpected location: %+v", loc)
	}
}

func TestHTTPResolverFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, err := NewHTTPResolver(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "203.0.113.7"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPResolverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r, err := NewHTTPResolver(srv.URL, WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewHTTPResolver: %v", err)
	}
	start := time.Now()
	if _, err := r.Resolve(context.Background(), "203.0.113.7"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("lookup exceeded its budget")
	}
}

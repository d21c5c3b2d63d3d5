package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "123 Main St" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"43.6532","lon":"-79.3832"}]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, time.Second)
	pt, err := g.Geocode(context.Background(), "123 Main St")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if pt.Latitude != 43.6532 || pt.Longitude != -79.3832 {
		t.Fatalf("unexpected point %+v", pt)
	}
}

func TestGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, time.Second)
	_, err := g.Geocode(context.Background(), "nowhere at all")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestGeocode_EmptyAddress(t *testing.T) {
	g := NewHTTPGeocoder("http://unused.invalid", time.Second)
	if _, err := g.Geocode(context.Background(), ""); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestGeocode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, time.Second)
	if _, err := g.Geocode(context.Background(), "123 Main St"); err == nil {
		t.Fatal("expected error on 502")
	}
}

package geoip

import (
	"errors"
	"testing"
)

func TestNilResolver(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver(empty) = %v, %v", r, err)
	}
	if _, err := r.CountryCode("203.0.113.1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if r.Lookup() != nil {
		t.Fatal("nil resolver must not provide a lookup")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestNewResolverMissingFile(t *testing.T) {
	if _, err := NewResolver("/nonexistent/GeoLite2-Country.mmdb"); err == nil {
		t.Fatal("expected error for missing database")
	}
}

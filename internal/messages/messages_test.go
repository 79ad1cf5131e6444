package messages

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"genorch/internal/domain"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		in   string
		want language.Tag
	}{
		{in: "", want: language.English},
		{in: "id", want: language.Indonesian},
		{in: "id-ID,en;q=0.8", want: language.Indonesian},
		{in: "en-GB", want: language.English},
		{in: "fr-FR", want: language.English},
		{in: "not a locale!!", want: language.English},
	}
	for _, tc := range tests {
		if got := Match(tc.in); got != tc.want {
			t.Fatalf("Match(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestWait(t *testing.T) {
	tests := []struct {
		locale string
		d      time.Duration
		want   string
	}{
		{locale: "en", d: time.Second, want: "1 second"},
		{locale: "en", d: 1500 * time.Millisecond, want: "2 seconds"},
		{locale: "en", d: 5 * time.Minute, want: "5 minutes"},
		{locale: "en", d: 24 * time.Hour, want: "24 hours"},
		{locale: "id", d: 60 * time.Second, want: "60 detik"},
		{locale: "id", d: 5 * time.Minute, want: "5 menit"},
	}
	for _, tc := range tests {
		if got := Wait(tc.locale, tc.d); got != tc.want {
			t.Fatalf("Wait(%s, %s) = %q, want %q", tc.locale, tc.d, got, tc.want)
		}
	}
}

func TestDenial(t *testing.T) {
	got := Denial("en", domain.DenyCooldown, time.Minute)
	if !strings.Contains(got, "60 seconds") || !strings.HasPrefix(got, "Too many requests") {
		t.Fatalf("cooldown text = %q", got)
	}
	got = Denial("id", domain.DenyBlocked, 24*time.Hour)
	if !strings.Contains(got, "24 jam") {
		t.Fatalf("blocked text = %q", got)
	}
}

func TestForDelivery(t *testing.T) {
	if got := ForDelivery("en", domain.Delivery{Kind: domain.DeliveryFailure, Refunded: true}); !strings.Contains(got, "funds have been returned") {
		t.Fatalf("refunded failure text = %q", got)
	}
	if got := ForDelivery("en", domain.Delivery{Kind: domain.DeliveryCancelled}); got != "Generation cancelled." {
		t.Fatalf("free cancel text = %q", got)
	}
	if got := ForDelivery("id", domain.Delivery{Kind: domain.DeliveryResult}); got != "Hasil Anda sudah siap." {
		t.Fatalf("result text = %q", got)
	}
}

// Package messages renders the user-facing texts sent with admission
// denials and job deliveries.
package messages

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"genorch/internal/domain"
)

// Key identifies a catalog entry.
type Key string

const (
	KeyRateLimited       Key = "rate_limited"
	KeyBlocked           Key = "blocked"
	KeyDuplicate         Key = "duplicate"
	KeyInsufficientFunds Key = "insufficient_funds"
	KeyFailedRefunded    Key = "failed_refunded"
	KeyFailed            Key = "failed"
	KeyCancelledRefunded Key = "cancelled_refunded"
	KeyCancelled         Key = "cancelled"
	KeySucceeded         Key = "succeeded"
	KeyAccepted          Key = "accepted"
	KeyNotFound          Key = "not_found"
	KeyInternal          Key = "internal"

	keySeconds = "wait_seconds"
	keyMinutes = "wait_minutes"
	keyHours   = "wait_hours"
)

var supported = []language.Tag{language.English, language.Indonesian}

var (
	matcher = language.NewMatcher(supported)
	cat     = mustBuild()
)

var entries = map[language.Tag]map[Key]string{
	language.English: {
		KeyRateLimited:       "Too many requests. Please wait %s before trying again.",
		KeyBlocked:           "Your account is temporarily blocked. Try again in %s.",
		KeyDuplicate:         "This request is already being processed.",
		KeyInsufficientFunds: "Your balance is not enough for this generation.",
		KeyFailedRefunded:    "Generation failed. Your funds have been returned.",
		KeyFailed:            "Generation failed. Please try again.",
		KeyCancelledRefunded: "Generation cancelled. Your funds have been returned.",
		KeyCancelled:         "Generation cancelled.",
		KeySucceeded:         "Your generation is ready.",
		KeyAccepted:          "Generation started.",
		KeyNotFound:          "Generation not found.",
		KeyInternal:          "Something went wrong. Please try again later.",
	},
	language.Indonesian: {
		KeyRateLimited:       "Terlalu banyak permintaan. Silakan tunggu %s sebelum mencoba lagi.",
		KeyBlocked:           "Akun Anda diblokir sementara. Coba lagi dalam %s.",
		KeyDuplicate:         "Permintaan ini sedang diproses.",
		KeyInsufficientFunds: "Saldo Anda tidak cukup untuk pembuatan ini.",
		KeyFailedRefunded:    "Pembuatan gagal. Dana Anda telah dikembalikan.",
		KeyFailed:            "Pembuatan gagal. Silakan coba lagi.",
		KeyCancelledRefunded: "Pembuatan dibatalkan. Dana Anda telah dikembalikan.",
		KeyCancelled:         "Pembuatan dibatalkan.",
		KeySucceeded:         "Hasil Anda sudah siap.",
		KeyAccepted:          "Pembuatan dimulai.",
		KeyNotFound:          "Pembuatan tidak ditemukan.",
		KeyInternal:          "Terjadi kesalahan. Silakan coba lagi nanti.",
	},
}

func mustBuild() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range entries {
		for key, text := range msgs {
			if err := b.SetString(tag, string(key), text); err != nil {
				panic(err)
			}
		}
	}
	must(b.Set(language.English, keySeconds, plural.Selectf(1, "%d", "=1", "1 second", "other", "%d seconds")))
	must(b.Set(language.English, keyMinutes, plural.Selectf(1, "%d", "=1", "1 minute", "other", "%d minutes")))
	must(b.Set(language.English, keyHours, plural.Selectf(1, "%d", "=1", "1 hour", "other", "%d hours")))
	must(b.SetString(language.Indonesian, keySeconds, "%d detik"))
	must(b.SetString(language.Indonesian, keyMinutes, "%d menit"))
	must(b.SetString(language.Indonesian, keyHours, "%d jam"))
	return b
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Match returns the supported language closest to the given locale or
// Accept-Language style string.
func Match(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Supported is Match that also reports whether any requested language is
// actually served; false means the English result is only a fallback.
func Supported(locale string) (language.Tag, bool) {
	tags, _, err := language.ParseAcceptLanguage(strings.TrimSpace(locale))
	if err != nil || len(tags) == 0 {
		return language.English, false
	}
	_, idx, conf := matcher.Match(tags...)
	return supported[idx], conf != language.No
}

func printer(locale string) *message.Printer {
	return message.NewPrinter(Match(locale), message.Catalog(cat))
}

// Render formats the catalog entry for key in the given locale.
func Render(locale string, key Key, args ...any) string {
	return printer(locale).Sprintf(string(key), args...)
}

// Wait renders a duration as a rounded-up count of seconds, minutes or hours.
func Wait(locale string, d time.Duration) string {
	p := printer(locale)
	switch {
	case d <= 0:
		return p.Sprintf(keySeconds, 0)
	case d < 90*time.Second:
		return p.Sprintf(keySeconds, int(math.Ceil(d.Seconds())))
	case d < 90*time.Minute:
		return p.Sprintf(keyMinutes, int(math.Ceil(d.Minutes())))
	default:
		return p.Sprintf(keyHours, int(math.Ceil(d.Hours())))
	}
}

// Denial renders the text for a refused submission.
func Denial(locale string, reason string, retryAfter time.Duration) string {
	switch reason {
	case domain.DenyBlocked:
		return Render(locale, KeyBlocked, Wait(locale, retryAfter))
	case domain.DenyDuplicate:
		return Render(locale, KeyDuplicate)
	default:
		return Render(locale, KeyRateLimited, Wait(locale, retryAfter))
	}
}

// ForDelivery picks the text that accompanies a delivery.
func ForDelivery(locale string, d domain.Delivery) string {
	switch d.Kind {
	case domain.DeliveryResult:
		return Render(locale, KeySucceeded)
	case domain.DeliveryCancelled:
		if d.Refunded {
			return Render(locale, KeyCancelledRefunded)
		}
		return Render(locale, KeyCancelled)
	default:
		if d.Refunded {
			return Render(locale, KeyFailedRefunded)
		}
		return Render(locale, KeyFailed)
	}
}

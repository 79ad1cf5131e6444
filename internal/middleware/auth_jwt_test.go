package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerifyJWT(t *testing.T) {
	token, err := SignJWT("secret", "u1", "id-ID", time.Hour)
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}
	claims, err := VerifyJWT("secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT error: %v", err)
	}
	if claims.Subject != "u1" || claims.Locale != "id-ID" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := VerifyJWT("other", token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	expired, _ := SignJWT("secret", "u1", "", -time.Minute)
	if _, err := VerifyJWT("secret", expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("secret"))
	if _, err := VerifyJWT("secret", noExpiry); err == nil {
		t.Fatal("expected token without exp to fail")
	}

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("secret"))
	if _, err := VerifyJWT("secret", hs512); err == nil {
		t.Fatal("expected HS512 token to fail")
	}

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"locale": "en", "exp": time.Now().Add(time.Hour).Unix()}).SignedString([]byte("secret"))
	if _, err := VerifyJWT("secret", noSubject); err == nil {
		t.Fatal("expected token without subject to fail")
	}

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := VerifyJWT("secret", unsigned); err == nil {
		t.Fatal("expected alg=none token to fail")
	}
}

func TestSignJWTDefaultTTL(t *testing.T) {
	token, err := SignJWT("secret", "u1", "", 0)
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}
	claims, err := VerifyJWT("secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT error: %v", err)
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.Before(time.Now().Add(DefaultTokenTTL-time.Minute)) {
		t.Fatalf("expected default expiry, got %v", claims.ExpiresAt)
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	var gotUser, gotLocale string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	}))

	token, _ := SignJWT("secret", "u42", "id", time.Hour)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if gotUser != "u42" || gotLocale != "id" {
		t.Fatalf("context user %q locale %q", gotUser, gotLocale)
	}
}

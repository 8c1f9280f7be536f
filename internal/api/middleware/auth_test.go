package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key"

var testSecret = []byte("общий-секрет")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestJWKSAuth(t *testing.T) (*JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, 0, testLogger()), key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func signHS256(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// captureSubject возвращает handler, запоминающий идентичность запроса.
func captureSubject(dst *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_AnonymousPassesThrough(t *testing.T) {
	auth, _ := newTestJWKSAuth(t)
	subject := "не вызван"
	rec := serve(auth.Middleware()(captureSubject(&subject)), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if subject != "" {
		t.Errorf("анонимный запрос не должен иметь идентичности, получено %q", subject)
	}
}

func TestJWTAuth_ValidRS256Token(t *testing.T) {
	auth, key := newTestJWKSAuth(t)
	claims := validClaims("alice")
	claims.ScopeString = "files:read files:admin"

	var scopes []string
	var subject string
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		scopes = ScopesFromContext(r.Context())
	}))
	rec := serve(h, "Bearer "+signRS256(t, key, claims))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if subject != "alice" {
		t.Errorf("ожидался sub=alice, получен %q", subject)
	}
	if len(scopes) != 2 || scopes[1] != ScopeAdmin {
		t.Errorf("неожиданные scopes: %v", scopes)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	auth, key := newTestJWKSAuth(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExp := validClaims("alice")
	noExp.ExpiresAt = nil

	tests := []struct {
		name   string
		header string
	}{
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просроченный", "Bearer " + signRS256(t, key, expired)},
		{"без exp", "Bearer " + signRS256(t, key, noExp)},
		{"чужая подпись", "Bearer " + signRS256(t, otherKey, validClaims("alice"))},
		{"HS256 вместо RS256", "Bearer " + signHS256(t, testSecret, validClaims("alice"))},
		{"без идентичности", "Bearer " + signRS256(t, key, validClaims(""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := auth.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			rec := serve(h, tt.header)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался 401, получен %d", rec.Code)
			}
			if called {
				t.Error("handler не должен вызываться с невалидным токеном")
			}
		})
	}
}

func TestSecretAuth(t *testing.T) {
	auth := NewSecretAuth(testSecret, 0, testLogger())

	// Токен исходного клиента: идентичность в claim "id"
	claims := validClaims("")
	claims.UserID = "64f0c0ffee"

	var subject string
	rec := serve(auth.Middleware()(captureSubject(&subject)), "Bearer "+signHS256(t, testSecret, claims))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if subject != "64f0c0ffee" {
		t.Errorf("ожидалась идентичность из id, получено %q", subject)
	}

	rec = serve(auth.Middleware()(captureSubject(&subject)), "Bearer "+signHS256(t, []byte("другой"), claims))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("токен с чужим секретом: ожидался 401, получен %d", rec.Code)
	}
}

func TestRequireScope(t *testing.T) {
	auth := NewSecretAuth(testSecret, 0, testLogger())
	h := auth.Middleware()(RequireScope(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	admin := validClaims("root")
	admin.ScopeArray = []string{ScopeAdmin}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"аноним", "", http.StatusUnauthorized},
		{"без scope", "Bearer " + signHS256(t, testSecret, validClaims("bob")), http.StatusForbidden},
		{"администратор", "Bearer " + signHS256(t, testSecret, admin), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(h, tt.header); rec.Code != tt.want {
				t.Errorf("ожидался %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCallerFromContext(t *testing.T) {
	auth := NewSecretAuth(testSecret, 0, testLogger())
	var known bool
	h := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		known = CallerFromContext(r.Context()).Known()
	}))

	serve(h, "")
	if known {
		t.Error("анонимный вызывающий не должен быть известен")
	}
	serve(h, "Bearer "+signHS256(t, testSecret, validClaims("alice")))
	if !known {
		t.Error("вызывающий с токеном должен быть известен")
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"registra.org/internal/auth"
)

const (
	testEmail    = "staff@example.com"
	testPassword = "hunter2secret"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	store := auth.NewMemStore()
	svc, err := auth.NewService(store, []byte("test-secret-0123456789"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.CreateAccount(t.Context(), auth.NewAccount{
		FirstName:   "Jordan",
		LastName:    "Reyes",
		Email:       testEmail,
		Password:    testPassword,
		Role:        auth.RoleStaff,
		Permissions: auth.PermissionSet{"students": {Read: true}},
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	api := New(svc, ReadyProbe{}, Options{Version: "test", RateBurst: 1000, RatePerSec: 1000})
	return api, api.Handler()
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rr.Body.String())
	}
	return body
}

func login(t *testing.T, h http.Handler) (accessCookie *http.Cookie, refreshToken string) {
	t.Helper()
	rr := postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"hunter2secret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == "access_token" {
			accessCookie = c
		}
	}
	if accessCookie == nil || accessCookie.Value == "" {
		t.Fatal("login did not set the access token cookie")
	}
	body := decodeBody(t, rr)
	refreshToken, _ = body["refresh_token"].(string)
	if refreshToken == "" {
		t.Fatal("login did not return a refresh token")
	}
	return accessCookie, refreshToken
}

func TestLoginSetsCookieAndReturnsSession(t *testing.T) {
	_, h := newTestAPI(t)

	rr := postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"hunter2secret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "access_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("missing access_token cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie not hardened: %+v", cookie)
	}

	body := decodeBody(t, rr)
	account, _ := body["account"].(map[string]any)
	if account == nil || account["email"] != testEmail {
		t.Fatalf("unexpected account payload: %v", body["account"])
	}
	if _, leaked := account["password_hash"]; leaked {
		t.Fatal("password hash must never appear in responses")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	_, h := newTestAPI(t)

	rr := postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"wrong"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["kind"] != "invalid_credentials" {
		t.Fatalf("expected kind invalid_credentials, got %v", body["kind"])
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatal("error body must carry the request id")
	}
}

func TestLoginLockoutReturns423(t *testing.T) {
	_, h := newTestAPI(t)

	for i := 0; i < 5; i++ {
		postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"wrong"}`)
	}
	rr := postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"hunter2secret"}`)
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["kind"] != "account_locked" {
		t.Fatalf("expected kind account_locked, got %v", body["kind"])
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	_, h := newTestAPI(t)

	rr := postJSON(t, h, "/v1/auth/login", `{"email":"a@b.com","password":"x","admin":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	_, h := newTestAPI(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", rr.Header().Get("Allow"))
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	_, h := newTestAPI(t)
	_, refresh := login(t, h)

	rr := postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	next, _ := body["refresh_token"].(string)
	if next == "" || next == refresh {
		t.Fatalf("expected a rotated token, got %q", next)
	}

	// The rotated-out value is dead.
	rr = postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["kind"] != "token_revoked_or_reused" {
		t.Fatalf("expected kind token_revoked_or_reused, got %v", body["kind"])
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	_, h := newTestAPI(t)

	rr := postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"deadbeef"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["kind"] != "token_invalid" {
		t.Fatalf("expected kind token_invalid, got %v", body["kind"])
	}
}

func TestMeRequiresAuthentication(t *testing.T) {
	_, h := newTestAPI(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}
}

func TestMeViaCookieAndBearer(t *testing.T) {
	_, h := newTestAPI(t)
	cookie, _ := login(t, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("cookie auth: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	account, _ := body["account"].(map[string]any)
	if account == nil || account["email"] != testEmail {
		t.Fatalf("unexpected account: %v", body["account"])
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer auth: expected 200, got %d", rr.Code)
	}
}

func TestLogoutIsIdempotentAndClearsCookie(t *testing.T) {
	_, h := newTestAPI(t)
	_, refresh := login(t, h)

	for i := 0; i < 2; i++ {
		rr := postJSON(t, h, "/v1/auth/logout", `{"refresh_token":"`+refresh+`"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout attempt %d: expected 200, got %d", i+1, rr.Code)
		}
		var cleared bool
		for _, c := range rr.Result().Cookies() {
			if c.Name == "access_token" && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Fatal("logout must clear the access cookie")
		}
	}

	// Logout without a body is also fine.
	rr := postJSON(t, h, "/v1/auth/logout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("bodyless logout: expected 200, got %d", rr.Code)
	}

	rr = postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token rejected, got %d", rr.Code)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	_, h := newTestAPI(t)
	cookie, firstRefresh := login(t, h)
	_, secondRefresh := login(t, h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout-all", nil)
	req.AddCookie(cookie)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	for _, token := range []string{firstRefresh, secondRefresh} {
		rr := postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"`+token+`"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected every session revoked, got %d", rr.Code)
		}
	}
}

func TestChangePasswordValidation(t *testing.T) {
	_, h := newTestAPI(t)
	cookie, _ := login(t, h)

	send := func(body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/change-password", strings.NewReader(body))
		req.AddCookie(cookie)
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := send(`{"current_password":"hunter2secret","new_password":"new-secret-1","confirm_password":"different"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("confirm mismatch: expected 400, got %d", rr.Code)
	}

	rr = send(`{"current_password":"hunter2secret","new_password":"short","confirm_password":"short"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", rr.Code)
	}

	rr = send(`{"current_password":"wrong","new_password":"new-secret-1","confirm_password":"new-secret-1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: expected 401, got %d", rr.Code)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	_, h := newTestAPI(t)
	cookie, refresh := login(t, h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/change-password",
		strings.NewReader(`{"current_password":"hunter2secret","new_password":"new-secret-1","confirm_password":"new-secret-1"}`))
	req.AddCookie(cookie)
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, h, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected session revoked after password change, got %d", rr.Code)
	}

	rr = postJSON(t, h, "/v1/auth/login", `{"email":"staff@example.com","password":"new-secret-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("new password must work, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequirePermission(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := RequirePermission("students", auth.ActionDelete, next)

	serve := func(id auth.Identity, withIdentity bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/v1/students/1", nil)
		if withIdentity {
			req = req.WithContext(auth.ContextWithIdentity(req.Context(), id))
		}
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)
		return rr
	}

	if rr := serve(auth.Identity{}, false); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no identity: expected 401, got %d", rr.Code)
	}

	staff := auth.Identity{
		AccountID:   "a1",
		Role:        auth.RoleStaff,
		Permissions: auth.PermissionSet{"students": {Read: true}},
	}
	if rr := serve(staff, true); rr.Code != http.StatusForbidden {
		t.Fatalf("staff without delete: expected 403, got %d", rr.Code)
	}

	admin := auth.Identity{AccountID: "a2", Role: auth.RoleSuperAdmin}
	if rr := serve(admin, true); rr.Code != http.StatusOK {
		t.Fatalf("super admin: expected 200, got %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	_, h := newTestAPI(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}

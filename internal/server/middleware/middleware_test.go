package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newAuthContext(app *App, authHeader string) (*AppContext, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return &AppContext{Context: c, App: app}, rec
}

func TestHasPermission(t *testing.T) {
	user := &AppUser{Permissions: []string{"study.create", "study.analyze"}}

	cases := []struct {
		name       string
		user       *AppUser
		permission string
		want       bool
	}{
		{"nil user", nil, "study.create", false},
		{"granted", user, "study.analyze", true},
		{"missing", user, "study.delete", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasPermission(tc.user, tc.permission); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	if IsAdmin(nil) {
		t.Fatal("expected nil user to not be admin")
	}
	if IsAdmin(&AppUser{Role: "user"}) {
		t.Fatal("expected user role to not be admin")
	}
	if !IsAdmin(&AppUser{Role: "admin"}) {
		t.Fatal("expected admin role recognized")
	}
}

func TestAuthMiddleware_MockModeInjectsAdmin(t *testing.T) {
	cc, _ := newAuthContext(&App{MockMode: true}, "")

	var got *AppUser
	next := func(c echo.Context) error {
		got = c.(*AppContext).User
		return nil
	}
	if err := AuthMiddleware(next)(cc); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got == nil || got.UserID != "mock" || got.Role != "admin" {
		t.Fatalf("expected the mock admin user, got %+v", got)
	}
	if !HasPermission(got, "study.analyze") {
		t.Fatal("expected the mock user to carry all permissions")
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	cc, rec := newAuthContext(&App{}, "")

	next := func(c echo.Context) error {
		t.Fatal("expected the chain to stop before the handler")
		return nil
	}
	if err := AuthMiddleware(next)(cc); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_WrongScheme(t *testing.T) {
	cc, rec := newAuthContext(&App{}, "Token abc")

	next := func(c echo.Context) error { return nil }
	if err := AuthMiddleware(next)(cc); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MasterKey(t *testing.T) {
	cc, _ := newAuthContext(&App{MasterAPIKey: "sekret"}, "Bearer sekret")

	var got *AppUser
	next := func(c echo.Context) error {
		got = c.(*AppContext).User
		return nil
	}
	if err := AuthMiddleware(next)(cc); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got == nil || got.UserID != "master" {
		t.Fatalf("expected the master user, got %+v", got)
	}
	if !IsAdmin(got) {
		t.Fatal("expected the master key to grant admin")
	}
}

func TestRequirePermission(t *testing.T) {
	handler := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "ok"})
	}
	wrapped := RequirePermission("study.delete")(handler)

	t.Run("no user", func(t *testing.T) {
		cc, rec := newAuthContext(&App{}, "")
		if err := wrapped(cc); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("missing permission", func(t *testing.T) {
		cc, rec := newAuthContext(&App{}, "")
		cc.User = &AppUser{UserID: "u1", Permissions: []string{"study.create"}}
		if err := wrapped(cc); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "study.delete") {
			t.Fatalf("expected the permission named, got %s", rec.Body.String())
		}
	})

	t.Run("granted", func(t *testing.T) {
		cc, rec := newAuthContext(&App{}, "")
		cc.User = &AppUser{UserID: "u1", Permissions: []string{"study.delete"}}
		if err := wrapped(cc); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

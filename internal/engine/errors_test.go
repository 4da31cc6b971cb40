package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"optcond-backend/internal/conditions"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/store"
)

func TestValidationDetails_SortedByFieldThenRule(t *testing.T) {
	verr := conditions.ValidationErrors{}
	verr.Add("value_id", "list", "needs a list")
	verr.Add("operator", "required", "required")
	verr.Add("condition_set_id", "required", "required")
	verr.Add("condition_set_id", "exists", "missing")

	details := ValidationDetails(verr)
	want := []string{"condition_set_id/exists", "condition_set_id/required", "operator/required", "value_id/list"}
	if len(details) != len(want) {
		t.Fatalf("expected %d details, got %d", len(want), len(details))
	}
	for i, d := range details {
		if got := d.Field + "/" + d.Rule; got != want[i] {
			t.Fatalf("detail %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestMapError(t *testing.T) {
	verr := conditions.ValidationErrors{}
	verr.Add("option_group_id", "exists", "The option group does not exist.")

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("add: %w", verr), 422, "VALIDATION_FAILED"},
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), 404, "NOT_FOUND"},
		{"unique", fmt.Errorf("%w: dup", store.ErrUniqueViolation), 409, "CONFLICT"},
		{"app error", ForbiddenError("no"), 403, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var appErr *AppError
			if !errors.As(MapError(tc.err, "condition set", "7"), &appErr) {
				t.Fatalf("expected *AppError for %v", tc.err)
			}
			if appErr.Status != tc.status || appErr.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, appErr.Status, appErr.Code)
			}
		})
	}

	other := errors.New("disk on fire")
	if MapError(other, "x", "1") != other {
		t.Fatal("unknown errors must pass through unchanged")
	}
	if msg := MapError(store.ErrNotFound, "condition set", "7").Error(); msg != "condition set with id 7 not found" {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.Nop())})
	app.Get("/app", func(c *fiber.Ctx) error {
		return ValidationError([]ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	})
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.ErrMethodNotAllowed })
	app.Get("/plain", func(c *fiber.Ctx) error { return errors.New("secret internals") })

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/app", 422, "VALIDATION_FAILED"},
		{"/fiber", 405, "HTTP_ERROR"},
		{"/plain", 500, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, tc.path, nil), -1)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
		var out ErrorResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("%s: invalid JSON: %s", tc.path, body)
		}
		if out.Error == nil || out.Error.Code != tc.code {
			t.Fatalf("%s: expected code %s, got %s", tc.path, tc.code, body)
		}
		if tc.path == "/plain" && out.Error.Message != "Internal server error" {
			t.Fatalf("internal error details leaked: %s", body)
		}
		if tc.path == "/app" && (len(out.Error.Details) != 1 || out.Error.Details[0].Rule != "required") {
			t.Fatalf("expected validation details, got %s", body)
		}
	}
}

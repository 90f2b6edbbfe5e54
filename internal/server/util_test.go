package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"  ", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"api///", "/api"},
		{"/v1/api", "/v1/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	wrap := func(sentinel error) error {
		return fmt.Errorf("container %q: %w", "web", sentinel)
	}
	cases := []struct {
		err  error
		want int
	}{
		{wrap(errdefs.ErrNotFound), http.StatusNotFound},
		{wrap(errdefs.ErrBinaryNotFound), http.StatusNotFound},
		{wrap(errdefs.ErrAlreadyExists), http.StatusConflict},
		{wrap(errdefs.ErrPortInUse), http.StatusConflict},
		{wrap(errdefs.ErrContainerRunning), http.StatusConflict},
		{wrap(errdefs.ErrUnsupported), http.StatusUnprocessableEntity},
		{wrap(errdefs.ErrStartFailed), http.StatusInternalServerError},
		{wrap(errdefs.ErrDownloadTimeout), http.StatusInternalServerError},
		{wrap(errdefs.ErrPortRangeExhausted), http.StatusInternalServerError},
		{errors.New("plain validation failure"), http.StatusBadRequest},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

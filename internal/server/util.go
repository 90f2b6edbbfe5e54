package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// statusFor maps the error taxonomy onto HTTP status codes. Conflicts
// (exists, running, port taken) are 409 so clients can distinguish
// retryable collisions from bad requests.
func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err),
		errors.Is(err, errdefs.ErrBinaryNotFound):
		return http.StatusNotFound
	case errdefs.IsAlreadyExists(err),
		errdefs.IsPortInUse(err),
		errors.Is(err, errdefs.ErrContainerRunning):
		return http.StatusConflict
	case errdefs.IsUnsupported(err):
		return http.StatusUnprocessableEntity
	case errdefs.IsStartFailed(err),
		errors.Is(err, errdefs.ErrStopTimeout),
		errors.Is(err, errdefs.ErrDownloadFailed),
		errors.Is(err, errdefs.ErrDownloadTimeout),
		errors.Is(err, errdefs.ErrPortRangeExhausted),
		errors.Is(err, errdefs.ErrVersionMismatch),
		errors.Is(err, errdefs.ErrMoveFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

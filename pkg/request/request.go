// Package request holds the small parsing helpers shared by the gin handlers.
package request

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/pkg/response"
)

// UUIDParam parses the path parameter name. On failure it writes a 400 and returns false.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// OptionalUUIDQuery parses an optional query parameter.
func OptionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

// OptionalBoolQuery parses an optional boolean query parameter.
func OptionalBoolQuery(c *gin.Context, name string) (*bool, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}

// OptionalTimeQuery parses an optional RFC 3339 or yyyy-mm-dd query parameter.
func OptionalTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	response.BadRequest(c, "invalid "+name)
	return nil, false
}

// IntQuery parses an optional integer query parameter, returning fallback when absent or malformed.
func IntQuery(c *gin.Context, name string, fallback int) int {
	if n, err := strconv.Atoi(c.Query(name)); err == nil {
		return n
	}
	return fallback
}

// BindJSON decodes the body into dst. On failure it writes a 400 and returns false.
func BindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// ConfirmationToken reads the token from the X-Confirmation-Token header,
// falling back to the given body value.
func ConfirmationToken(c *gin.Context, body string) string {
	if h := strings.TrimSpace(c.GetHeader("X-Confirmation-Token")); h != "" {
		return h
	}
	return strings.TrimSpace(body)
}

// BindOptionalJSON decodes the body into dst when one is present. Empty
// bodies, including chunked ones, leave dst untouched. On a malformed body it
// writes a 400 and returns false.
func BindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

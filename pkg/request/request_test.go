package request

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type reasonBody struct {
	Reason string `json:"reason"`
}

func bindContext(body io.Reader, contentLength int64) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = contentLength
	c.Request = req
	return c, w
}

func TestBindOptionalJSON(t *testing.T) {
	t.Run("chunked body is decoded", func(t *testing.T) {
		c, _ := bindContext(io.MultiReader(strings.NewReader(`{"reason":`), strings.NewReader(`"maintenance"}`)), -1)
		var b reasonBody
		assert.True(t, BindOptionalJSON(c, &b))
		assert.Equal(t, "maintenance", b.Reason)
	})

	t.Run("no body", func(t *testing.T) {
		c, _ := bindContext(nil, 0)
		b := reasonBody{Reason: "kept"}
		assert.True(t, BindOptionalJSON(c, &b))
		assert.Equal(t, "kept", b.Reason)
	})

	t.Run("empty chunked body", func(t *testing.T) {
		c, _ := bindContext(io.MultiReader(strings.NewReader("")), -1)
		var b reasonBody
		assert.True(t, BindOptionalJSON(c, &b))
		assert.Empty(t, b.Reason)
	})

	t.Run("malformed body", func(t *testing.T) {
		c, w := bindContext(strings.NewReader(`{"reason":`), -1)
		var b reasonBody
		assert.False(t, BindOptionalJSON(c, &b))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		send   func(c *gin.Context)
		status int
		want   Body
	}{
		{"ok", func(c *gin.Context) { OK(c, "x") }, http.StatusOK, Body{Success: true, Data: "x"}},
		{"accepted", func(c *gin.Context) { Accepted(c, "queued") }, http.StatusAccepted, Body{Success: true, Data: "queued"}},
		{"fail", func(c *gin.Context) { Fail(c, http.StatusConflict, "INVALID_STATE", "already live") }, http.StatusConflict, Body{Error: "already live", Code: "INVALID_STATE"}},
		{"internal", func(c *gin.Context) { Internal(c, "internal error") }, http.StatusInternalServerError, Body{Error: "internal error", Code: "INTERNAL"}},
		{"not found", func(c *gin.Context) { NotFound(c, "gone") }, http.StatusNotFound, Body{Error: "gone"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tc.send(c)

			assert.Equal(t, tc.status, w.Code)
			var got Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

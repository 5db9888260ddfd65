package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"donorledger/pkg/errutil"
)

func serve(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Error())
	r.GET("/", handler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorMapsBaseError(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.Error(errutil.BadRequest("bad input", nil))
	})

	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, false, body["success"])

	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(errutil.StatusBadRequest), errObj["code"])
}

func TestErrorUnknownErrorIsInternal(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.Error(errors.New("boom"))
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, false, body["success"])
	require.Contains(t, body, "error")
}

func TestErrorLeavesWrittenResponsesAlone(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
		c.Error(errors.New("after write"))
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["success"])
}

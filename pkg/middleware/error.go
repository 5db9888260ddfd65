package middleware

import (
	"errors"
	"net/http"

	"donorledger/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error maps domain errors attached to the gin context onto HTTP responses.
// Handlers that already wrote a response are left alone.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), errorBody(be))
			return
		}

		c.JSON(http.StatusInternalServerError, errorBody(errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}))
	}
}

// errorBody wraps the error envelope with the success flag every response
// carries, error or not.
func errorBody(be errutil.BaseError) gin.H {
	body := gin.H{"success": false}
	if m, ok := be.JSON().(map[string]interface{}); ok {
		for k, v := range m {
			body[k] = v
		}
	}
	return body
}

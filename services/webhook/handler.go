package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"donorledger/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Response struct {
	Success bool `json:"success"`
}

// Handle receives a processor webhook delivery. The signature is verified over
// the raw body before any of it is trusted; verification failures are rejected
// without processing.
func (s *Service) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.BadRequest("failed to read request body", err))
		return
	}

	if err := VerifySignature(s.secret, body, c.GetHeader(SignatureHeader)); err != nil {
		zap.L().Warn("rejecting webhook with invalid signature", zap.Error(err))
		c.Error(errutil.BadRequest("invalid webhook signature", err))
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.Error(errutil.BadRequest("malformed webhook payload", err))
		return
	}

	if err := s.Process(c.Request.Context(), &event); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

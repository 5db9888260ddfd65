package webhook

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

// Models lists the tables this service owns, for migration.
func Models() []any {
	return []any{
		&Donation{},
		&PointsEntry{},
		&PointsBalance{},
		&WebhookDelivery{},
	}
}

func registerRoutes(r *gin.Engine, s *Service) {
	r.POST("/webhooks/btcpay", s.Handle)
}

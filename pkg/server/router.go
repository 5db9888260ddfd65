package server

import (
	"net/http"

	"donorledger/pkg/config"
	"donorledger/pkg/health"
	"donorledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var RouterModule = fx.Module("router",
	fx.Provide(NewRouter),
	fx.Invoke(registerHealthRoutes),
)

func NewRouter(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	// Webhook deliveries are POST only; anything else on a known path is 405.
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"success": false})
	})

	return r
}

func registerHealthRoutes(r *gin.Engine, h health.HealthService) {
	r.GET("/livez", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

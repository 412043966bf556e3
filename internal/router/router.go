package router

import (
	"log/slog"
	"time"

	"farmai/config"
	"farmai/internal/handler"
	"farmai/internal/middleware"
	"farmai/internal/otp"
	"farmai/internal/repository"
	"farmai/internal/service"
	"farmai/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the external collaborators of the API.
type Deps struct {
	DB     *gorm.DB
	Codes  otp.Store
	Sender otp.Sender
	Log    *slog.Logger
}

func Setup(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(deps.DB)
	locRepo := repository.NewLocationRepository(deps.DB)
	presenceRepo := repository.NewPresenceRepository(deps.DB)

	locationHub := ws.NewLocationHub()

	// Services
	authSvc := service.NewAuthService(cfg, userRepo, deps.Codes, deps.Sender, deps.Log)
	locSvc := service.NewLocationService(locRepo, locationHub)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc, presenceRepo)
	meHandler := handler.NewMeHandler(authSvc, presenceRepo)
	locationHandler := handler.NewLocationHandler(locSvc)

	authMw := middleware.AuthRequired(&cfg.JWT)
	authLimit := middleware.RateLimit(middleware.NewInMemoryRateLimiter(cfg.Server.AuthRateLimit, time.Minute))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authGroup.Use(authLimit)
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/verify-registration-otp", authHandler.VerifyRegistrationOTP)
			authGroup.POST("/resend-registration-otp", authHandler.ResendRegistrationOTP)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMw, authHandler.Logout)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/profile", meHandler.Profile)
			me.PATCH("/presence", meHandler.SetPresence)
			me.PATCH("/location", locationHandler.UpdateLocation)
			me.GET("/location", locationHandler.GetMyLocation)
			me.GET("/location/distance", locationHandler.GetDistance)
		}
	}

	r.GET("/ws/location", ws.UpgradeLocationWS(&cfg.JWT, locationHub, locSvc, presenceRepo))

	return r
}

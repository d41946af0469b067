package routes

import (
	"time"

	"consogab/config"
	"consogab/controllers"
	"consogab/middlewares"
	"consogab/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const slowRequest = 500 * time.Millisecond

// RegisterRoutes 注册所有路由
func RegisterRoutes(cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger(slowRequest))

	// 配置跨域中间件
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigin,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	if len(cfg.CORSOrigin) == 0 || cfg.CORSOrigin[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	r.Use(cors.New(corsConfig))

	r.GET("/ws", services.HandleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/register", controllers.Register)
	api.POST("/login", controllers.Login)

	protected := api.Group("", middlewares.TokenAuthMiddleware())
	writes := middlewares.RateLimit(cfg.SendRate)
	{
		protected.GET("/userinfo", controllers.GetUserInfo)
		protected.POST("/profiles/resolve", controllers.ResolveProfiles)
		protected.POST("/businesses", controllers.CreateBusiness)

		protected.GET("/conversations", controllers.GetConversations)
		protected.POST("/conversations", controllers.CreateConversationHandler)
		protected.POST("/conversations/group", controllers.CreateGroupHandler)
		protected.GET("/conversations/:id", controllers.GetConversationByID)
		protected.POST("/conversations/:id/touch", controllers.TouchConversation)
		protected.POST("/conversations/:id/read", controllers.MarkRead)
		protected.GET("/conversations/:id/messages", controllers.GetMessagesByConversationID)
		protected.POST("/conversations/:id/messages", writes, controllers.SendMessage)
		protected.POST("/messages/:id/reactions", writes, controllers.ToggleReaction)
	}
	return r
}

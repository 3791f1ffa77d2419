package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"interviewsim/internal/ai"
	appsvc "interviewsim/internal/app"
	"interviewsim/internal/bootstrap"
	"interviewsim/internal/cache"
	"interviewsim/internal/platform/rabbitmq"
	"interviewsim/internal/prompt"
	"interviewsim/internal/repository"
	"interviewsim/internal/transport/http/handler"
	"interviewsim/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	documentRepo := repository.NewDocumentRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	publisher := rabbitmq.NewEventPublisher(app.MQConn, app.Config.RabbitMQ.BroadcastExchange)
	llmTimeout := time.Duration(app.Config.LLM.TimeoutSeconds) * time.Second
	llmClient := ai.NewClient(ai.ChatConfig{
		BaseURL: app.Config.LLM.BaseURL,
		APIKey:  app.Config.LLM.APIKey,
		Model:   app.Config.LLM.Model,
	}, llmTimeout)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(documentRepo)
	interviewService := appsvc.NewInterviewService(
		sessionRepo,
		messageRepo,
		documentRepo,
		publisher,
		historyCache,
		llmClient,
		prompt.ComposeSystemPrompt,
		llmTimeout,
	)

	authHandler := handler.NewAuthHandler(authService)
	interviewHandler := handler.NewInterviewHandler(interviewService, documentService, app.Config.MaxUploadBytes())
	wsHandler := handler.NewWSHandler(app.Hub, interviewService)

	authRequired := middleware.AuthJWT(app.Config.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authRequired, authHandler.Me)

	interviewGroup := v1.Group("/interviews")
	interviewGroup.Use(authRequired)
	interviewGroup.POST("", interviewHandler.Start)
	interviewGroup.GET("", interviewHandler.List)
	interviewGroup.POST("/:id/messages", interviewHandler.SendMessage)
	interviewGroup.POST("/:id/messages/stream", interviewHandler.StreamMessage)
	interviewGroup.GET("/:id/messages", interviewHandler.GetHistory)
	interviewGroup.POST("/:id/end", interviewHandler.End)

	router.GET("/ws", authRequired, wsHandler.Subscribe)

	return router
}

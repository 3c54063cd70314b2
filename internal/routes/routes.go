package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CoveTalks/CoveTalksApp/internal/config"
	"github.com/CoveTalks/CoveTalksApp/internal/handlers"
	"github.com/CoveTalks/CoveTalksApp/internal/logging"
	"github.com/CoveTalks/CoveTalksApp/internal/middleware"
	"github.com/CoveTalks/CoveTalksApp/internal/realtime"
	"github.com/CoveTalks/CoveTalksApp/internal/repository"
	"github.com/CoveTalks/CoveTalksApp/internal/services"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	memberRepo := repository.NewMemberRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	hub := realtime.NewHub(logging.Component("realtime"))
	go hub.Run()

	messageService := services.NewMessageService(db, messageRepo, memberRepo, logging.Component("messages"))
	messageHandler := handlers.NewMessageHandler(messageService, hub, cfg.JWTSecret)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Registered ahead of the bearer-auth group: ws clients may carry the
	// token in the query string, which WebSocketAuth validates itself.
	api.Use("/v1/ws", messageHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(messageHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	authProtected.Get("/inbox", messageHandler.ListInbox)

	messages := authProtected.Group("/messages")
	messages.Post("", messageHandler.SendMessage)
	messages.Get("/thread/:memberId", messageHandler.GetThread)
	messages.Post("/read", messageHandler.MarkRead)
	messages.Get("/:id", messageHandler.GetMessage)
	messages.Post("/:id/archive", messageHandler.ArchiveMessage)
}

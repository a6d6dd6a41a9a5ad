package routes

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sakani/sakani_backend/handlers"
	"github.com/sakani/sakani_backend/middleware"
)

func ChatRoutes(app *fiber.App, h *handlers.ChatHandler) {
	api := app.Group("/api/v1")

	// The channel authenticates with its first frame, so /ws sits outside the JWT middleware.
	api.Use("/chats/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	api.Get("/chats/ws", websocket.New(h.ServeWs))

	chats := api.Group("/chats", middleware.Protected(h.JWTSecret))
	chats.Get("/unread", h.GetUnreadTotal)
	chats.Get("/upload-signature", h.GetUploadSignature)
	chats.Post("/delete-chat", h.DeleteChat)
	chats.Post("/mark-as-read", h.MarkAsRead)
	chats.Post("/messages", h.SendMessage)
	chats.Post("/upload-file", h.UploadFile)
	chats.Get("/:userId/:roommateId/unread", h.GetUnreadCount)
	chats.Get("/:userId/:roommateId", h.GetChatHistory)
}

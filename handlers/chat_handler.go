package handlers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakani/sakani_backend/attachments"
	"github.com/sakani/sakani_backend/database"
	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/middleware"
	"github.com/sakani/sakani_backend/models"
	"github.com/sakani/sakani_backend/services"
	"github.com/sakani/sakani_backend/websocket"
	"go.uber.org/zap"
)

var validate = validator.New()

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ChatHandler serves the REST and channel entry points of the chat subsystem.
type ChatHandler struct {
	Chat       *services.ChatService
	Storage    attachments.Storage
	Registry   *websocket.Registry
	JWTSecret  string
	SendBuffer int
}

type conversationRequest struct {
	UserID     string `json:"userId" validate:"required"`
	RoommateID string `json:"roommateId" validate:"required"`
}

type sendMessageRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Message    string `json:"message"`
	FileURL    string `json:"fileUrl"`
	FileType   string `json:"fileType"`
}

// ErrorHandler renders every error returned by a handler as the JSON error body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	if code >= fiber.StatusInternalServerError {
		logger.Log.Error("request_failed",
			zap.String("path", c.Path()),
			zap.String("method", c.Method()),
			zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  "error",
		"code":    code,
		"message": err.Error(),
	})
}

// serviceError maps service sentinels onto HTTP status codes. Persistence details
// are logged, not returned.
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	default:
		logger.Log.Error("chat_operation_failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to process chat request")
	}
}

// requireCaller rejects requests that act on behalf of someone other than the token holder.
func requireCaller(c *fiber.Ctx, actingUser string) error {
	caller, ok := middleware.CallerID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired JWT")
	}
	if caller != actingUser {
		return fiber.NewError(fiber.StatusForbidden, "You can only act on your own conversations")
	}
	return nil
}

// pageFromQuery paginates only when the client asks for it; without page or
// page_size the whole visible history is returned.
func pageFromQuery(c *fiber.Ctx) database.Page {
	if c.Query("page") == "" && c.Query("page_size") == "" {
		return database.Page{}
	}
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.Query("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return database.Page{Limit: size, Offset: (page - 1) * size}
}

// GetChatHistory returns the conversation as seen by userId, oldest first.
func (h *ChatHandler) GetChatHistory(c *fiber.Ctx) error {
	userID, roommateID := c.Params("userId"), c.Params("roommateId")
	if err := requireCaller(c, userID); err != nil {
		return err
	}

	messages, err := h.Chat.History(c.UserContext(), userID, roommateID, pageFromQuery(c))
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(messages)
}

func (h *ChatHandler) GetUnreadCount(c *fiber.Ctx) error {
	userID, roommateID := c.Params("userId"), c.Params("roommateId")
	if err := requireCaller(c, userID); err != nil {
		return err
	}

	n, err := h.Chat.UnreadCount(c.UserContext(), userID, roommateID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"unread": n})
}

func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	caller, ok := middleware.CallerID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired JWT")
	}

	n, err := h.Chat.UnreadTotal(c.UserContext(), caller)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"unread": n})
}

// DeleteChat hides the conversation for the caller; the other participant keeps it.
func (h *ChatHandler) DeleteChat(c *fiber.Ctx) error {
	var req conversationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := requireCaller(c, req.UserID); err != nil {
		return err
	}

	n, err := h.Chat.DeleteConversation(c.UserContext(), req.UserID, req.RoommateID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"message": "Chat deleted successfully", "hidden": n})
}

func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	var req conversationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := requireCaller(c, req.UserID); err != nil {
		return err
	}

	n, err := h.Chat.MarkRead(c.UserContext(), req.UserID, req.RoommateID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(fiber.Map{"message": "Messages marked as read", "updated": n})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Cannot parse JSON")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := requireCaller(c, req.SenderID); err != nil {
		return err
	}

	saved, err := h.Chat.Send(c.UserContext(), services.IngestInput{
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Body:           req.Message,
		AttachmentRef:  req.FileURL,
		AttachmentKind: models.AttachmentKind(req.FileType),
		Source:         services.SourceREST,
	})
	if err != nil {
		return serviceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

// UploadFile stores the multipart "file" and sends it as an attachment message.
func (h *ChatHandler) UploadFile(c *fiber.Ctx) error {
	senderID, receiverID := c.FormValue("senderId"), c.FormValue("receiverId")
	if senderID == "" || receiverID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "senderId and receiverId are required")
	}
	if err := requireCaller(c, senderID); err != nil {
		return err
	}

	file, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded")
	}
	if !attachments.Allowed(file.Filename) {
		return fiber.NewError(fiber.StatusBadRequest, attachments.ErrUnsupportedFile.Error())
	}
	mediaType, err := attachments.MediaType(file)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Could not read uploaded file")
	}

	ref, err := h.Storage.Save(c.UserContext(), file)
	if err != nil {
		logger.Log.Error("attachment_save_failed", zap.String("file", file.Filename), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to store file")
	}

	saved, err := h.Chat.Send(c.UserContext(), services.IngestInput{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           c.FormValue("message"),
		AttachmentRef:  ref,
		AttachmentKind: attachments.KindForMediaType(mediaType),
		Source:         services.SourceREST,
	})
	if err != nil {
		return serviceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(saved)
}

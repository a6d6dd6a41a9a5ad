package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	websocketcontrib "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/middleware"
	"github.com/sakani/sakani_backend/models"
	"github.com/sakani/sakani_backend/services"
	"github.com/sakani/sakani_backend/websocket"
	"go.uber.org/zap"
)

const (
	eventJoinRoom    = "joinRoom"
	eventLeaveRoom   = "leaveRoom"
	eventSendMessage = "sendMessage"
	eventMarkAsRead  = "markAsRead"
	eventUploadFile  = "uploadFile"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type sendMessagePayload struct {
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	FileURL    string `json:"fileUrl"`
	FileType   string `json:"fileType"`
}

type markAsReadPayload struct {
	UserID     string `json:"userId" validate:"required"`
	RoommateID string `json:"roommateId" validate:"required"`
	RoomID     string `json:"roomId" validate:"required"`
}

type fileRef struct {
	URL string `json:"url"`
}

type uploadFilePayload struct {
	RoomID     string  `json:"roomId"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	File       fileRef `json:"file"`
	FileType   string  `json:"fileType"`
}

// ServeWs authenticates the first frame, registers the connection and dispatches
// events until the peer goes away.
func (h *ChatHandler) ServeWs(c *websocketcontrib.Conn) {
	type AuthMessage struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	var authMsg AuthMessage
	if err := c.ReadJSON(&authMsg); err != nil || authMsg.Type != "auth" {
		logger.Log.Warn("ws_auth_failed", zap.String("reason", "invalid or missing auth message"), zap.Error(err))
		_ = c.WriteJSON(fiber.Map{"error": "Invalid or missing auth message"})
		_ = c.Close()
		return
	}

	userID, err := middleware.ParseToken(h.JWTSecret, authMsg.Token)
	if err != nil {
		logger.Log.Warn("ws_auth_failed", zap.String("reason", "invalid token"), zap.Error(err))
		_ = c.WriteJSON(fiber.Map{"error": "Invalid token"})
		_ = c.Close()
		return
	}

	conn := websocket.NewConnection(userID, c, h.SendBuffer)
	if err := h.Registry.Register(conn); err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "Server is shutting down"})
		_ = c.Close()
		return
	}
	go conn.WritePump()

	// The socket goes back to the contrib/websocket pool when ServeWs returns,
	// so the write pump must have stopped by then.
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.Registry.Disconnect(conn)
		<-conn.PumpDone()
	}()
	logger.Log.Info("ws_connected", zap.String("conn", conn.ID), zap.String("user", userID))

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocketcontrib.IsCloseError(err, websocketcontrib.CloseGoingAway, websocketcontrib.CloseNormalClosure, websocketcontrib.CloseAbnormalClosure) {
				logger.Log.Info("ws_closed", zap.String("conn", conn.ID), zap.String("user", userID))
			} else {
				logger.Log.Debug("ws_read_failed", zap.String("conn", conn.ID), zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, conn, raw)
	}
}

// dispatch handles one inbound frame. Failures are reported to the sending
// connection only and never reach the room.
func (h *ChatHandler) dispatch(ctx context.Context, conn *websocket.Connection, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendError("bad_request", "Malformed event frame")
		return
	}

	var err error
	switch frame.Event {
	case eventJoinRoom:
		err = h.onJoinRoom(conn, frame.Data)
	case eventLeaveRoom:
		err = h.onLeaveRoom(conn, frame.Data)
	case eventSendMessage:
		err = h.onSendMessage(ctx, conn, frame.Data)
	case eventMarkAsRead:
		err = h.onMarkAsRead(ctx, conn, frame.Data)
	case eventUploadFile:
		err = h.onUploadFile(ctx, conn, frame.Data)
	default:
		conn.SendError("unknown_event", "Unknown event: "+frame.Event)
		return
	}
	if err != nil {
		code, message := eventError(err)
		logger.Log.Warn("ws_event_rejected",
			zap.String("event", frame.Event),
			zap.String("user", conn.UserID),
			zap.Error(err))
		conn.SendError(code, message)
	}
}

func eventError(err error) (string, string) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, models.ErrInvalidRoom):
		return "validation", err.Error()
	case errors.Is(err, services.ErrForbidden):
		return "forbidden", err.Error()
	case errors.Is(err, services.ErrNotFound):
		return "not_found", err.Error()
	default:
		return "persistence", "Failed to process event"
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return services.ErrValidation
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(services.ErrValidation, err)
	}
	return nil
}

// authorizeRoom requires the acting user to be the caller and the supplied room to
// be the one derived from the participant pair.
func authorizeRoom(conn *websocket.Connection, actingUser, otherUser, room string) error {
	if actingUser != conn.UserID {
		return errors.Join(services.ErrForbidden, errors.New("acting user is not the authenticated caller"))
	}
	if strings.TrimSpace(otherUser) == "" {
		return errors.Join(services.ErrValidation, errors.New("missing other participant"))
	}
	if room != models.RoomID(actingUser, otherUser) {
		return errors.Join(services.ErrForbidden, errors.New("room does not belong to this conversation"))
	}
	return nil
}

func (h *ChatHandler) onJoinRoom(conn *websocket.Connection, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.Join(services.ErrValidation, errors.New("roomId is required"))
	}
	conv, err := models.ParseRoom(p.RoomID)
	if err != nil {
		return err
	}
	if !conv.Has(conn.UserID) {
		return errors.Join(services.ErrForbidden, errors.New("not a participant of this room"))
	}

	h.Registry.Join(conn, conv.RoomID())
	conn.SendEvent(models.Event{Event: models.EventJoined, Data: roomPayload{RoomID: conv.RoomID()}})
	logger.Log.Debug("ws_room_joined", zap.String("user", conn.UserID), zap.String("room", conv.RoomID()))
	return nil
}

func (h *ChatHandler) onLeaveRoom(conn *websocket.Connection, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.Join(services.ErrValidation, errors.New("roomId is required"))
	}

	conv, err := models.ParseRoom(p.RoomID)
	if err != nil {
		return err
	}

	h.Registry.Leave(conn, conv.RoomID())
	conn.SendEvent(models.Event{Event: models.EventLeft, Data: roomPayload{RoomID: conv.RoomID()}})
	return nil
}

func (h *ChatHandler) onSendMessage(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := authorizeRoom(conn, p.SenderID, p.ReceiverID, p.RoomID); err != nil {
		return err
	}

	_, err := h.Chat.Send(ctx, services.IngestInput{
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Body:           p.Message,
		AttachmentRef:  p.FileURL,
		AttachmentKind: models.AttachmentKind(p.FileType),
		Source:         services.SourceChannel,
	})
	return err
}

func (h *ChatHandler) onMarkAsRead(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var p markAsReadPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := validate.Struct(p); err != nil {
		return errors.Join(services.ErrValidation, err)
	}
	if err := authorizeRoom(conn, p.UserID, p.RoommateID, p.RoomID); err != nil {
		return err
	}

	_, err := h.Chat.MarkRead(ctx, p.UserID, p.RoommateID)
	return err
}

func (h *ChatHandler) onUploadFile(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var p uploadFilePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.File.URL) == "" {
		return errors.Join(services.ErrValidation, errors.New("file url is required"))
	}
	if err := authorizeRoom(conn, p.SenderID, p.ReceiverID, p.RoomID); err != nil {
		return err
	}

	_, err := h.Chat.Send(ctx, services.IngestInput{
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		AttachmentRef:  p.File.URL,
		AttachmentKind: models.AttachmentKind(p.FileType),
		Source:         services.SourceChannel,
	})
	return err
}

// file: handlers/upload_handler.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakani/sakani_backend/attachments"
	"github.com/sakani/sakani_backend/logger"
	"go.uber.org/zap"
)

// GetUploadSignature creates a secure signature for a direct client upload of a
// chat attachment. The resulting URL is then sent through the uploadFile event.
func (h *ChatHandler) GetUploadSignature(c *fiber.Ctx) error {
	signer, ok := h.Storage.(attachments.Signer)
	if !ok {
		return fiber.NewError(fiber.StatusNotImplemented, attachments.ErrNoSigner.Error())
	}

	sig, err := signer.SignUpload()
	if err != nil {
		logger.Log.Error("upload_signature_failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to sign upload params")
	}
	return c.JSON(sig)
}

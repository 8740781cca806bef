package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-chat/internal/storage"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// AttachmentsHandler serves attachment blobs addressed by signed URL. The
// token embeds the storage ref and expiry, so no session is required; links
// simply stop working when the signature lapses.
type AttachmentsHandler struct {
	blobs  storage.BlobStore
	signer *storage.URLSigner
}

// NewAttachmentsHandler constructs handler.
func NewAttachmentsHandler(blobs storage.BlobStore, signer *storage.URLSigner) *AttachmentsHandler {
	return &AttachmentsHandler{blobs: blobs, signer: signer}
}

// Download GET /attachments?token=...
func (h *AttachmentsHandler) Download(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return apperrors.NewValidationError("token required", nil)
	}
	ref, err := h.signer.Verify(token)
	if err != nil {
		return apperrors.NewAuthError("invalid or expired link")
	}

	data, err := h.blobs.Get(c.Context(), ref)
	if err != nil {
		return apperrors.NewNotFound("attachment", nil)
	}
	c.Set(fiber.HeaderContentType, http.DetectContentType(data))
	return c.Send(data)
}

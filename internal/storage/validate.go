package storage

import (
	"strings"

	"github.com/spec-kit/support-chat/internal/domain"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// ValidateUpload enforces the attachment constraints at the persistence
// boundary, before any blob is written.
func ValidateUpload(fileName, mimeType string, sizeBytes int64) error {
	if strings.TrimSpace(fileName) == "" {
		return apperrors.NewValidationError("file name required", nil)
	}
	if sizeBytes <= 0 {
		return apperrors.NewValidationError("attachment is empty", nil)
	}
	if sizeBytes > domain.MaxAttachmentBytes {
		return apperrors.NewValidationError("attachment exceeds the size limit", map[string]any{
			"size_bytes": sizeBytes,
			"max_bytes":  int64(domain.MaxAttachmentBytes),
		})
	}
	if !domain.AllowedImageType(mimeType) {
		return apperrors.NewValidationError("unsupported attachment type", map[string]any{
			"mime_type": mimeType,
		})
	}
	return nil
}

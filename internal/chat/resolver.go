package chat

import "github.com/spec-kit/support-chat/internal/domain"

// SignFunc derives a short-lived retrieval URL from a storage reference.
type SignFunc func(storageRef string) (string, error)

// ResolveAttachmentURLs returns a copy of the attachments with fresh signed
// URLs. URLs are recomputed on every call since their validity is bounded;
// a failed signing leaves that attachment's URL empty rather than failing
// the whole list.
func ResolveAttachmentURLs(attachments []domain.Attachment, sign SignFunc) []domain.Attachment {
	out := make([]domain.Attachment, len(attachments))
	for i, att := range attachments {
		url, err := sign(att.StorageRef)
		if err != nil {
			url = ""
		}
		att.SignedURL = url
		out[i] = att
	}
	return out
}

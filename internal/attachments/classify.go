package attachments

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gigboard/marketplace/internal/models"
)

func isDocument(base string) bool {
	switch base {
	case "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/vnd.oasis.opendocument.presentation",
		"application/rtf",
		"text/rtf":
		return true
	}
	return false
}

// isPlainFile lists what policy accepts without a richer type
func isPlainFile(base string) bool {
	switch base {
	case "text/plain",
		"text/csv",
		"application/zip",
		"application/x-7z-compressed",
		"application/gzip",
		"application/x-rar-compressed":
		return true
	}
	return false
}

// Classify maps a MIME type to an attachment type. ok is false when the type is not allowed.
func Classify(mimeType string) (kind string, ok bool) {
	base := baseType(mimeType)
	switch {
	// svg can carry scripts and uploads are served from our origin
	case strings.HasPrefix(base, "image/") && base != "image/svg+xml":
		return models.AttachmentImage, true
	case base == "application/pdf":
		return models.AttachmentPDF, true
	case isDocument(base):
		return models.AttachmentDocument, true
	case isPlainFile(base):
		return models.AttachmentFile, true
	}
	return "", false
}

// Detect sniffs the content. The client-declared type is never trusted.
func Detect(data []byte) (mimeType, extension string) {
	m := mimetype.Detect(data)
	return baseType(m.String()), m.Extension()
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

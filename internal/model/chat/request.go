package chat

// MIME types accepted for image attachments.
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeGIF  = "image/gif"
	MIMETypeWEBP = "image/webp"
)

// MaxImageBytes is the default upper bound for a decoded attachment (5 MiB).
const MaxImageBytes = 5 * 1024 * 1024

// AllowedMIMETypes lists the attachment types in the order they are reported to callers.
var AllowedMIMETypes = []string{MIMETypeJPEG, MIMETypePNG, MIMETypeGIF, MIMETypeWEBP}

// ImageAttachment carries one inline image. Data is plain base64 without a data: prefix.
type ImageAttachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// Metadata describes the page the extension was opened on. It is accepted but not used.
type Metadata struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Request is the body of POST /api/chat.
type Request struct {
	Message        string           `json:"message"`
	ConversationID string           `json:"conversationId,omitempty"`
	Image          *ImageAttachment `json:"image,omitempty"`
	Metadata       *Metadata        `json:"metadata,omitempty"`
}

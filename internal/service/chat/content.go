package chat

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/projectq/projectq/backend/internal/model/chat"
)

// BuildUserMessage shapes a user turn for the model. Without an image the
// message is plain text; with one it carries an optional text part followed by
// a single inline image part.
func BuildUserMessage(text string, img *chat.ImageAttachment) *schema.Message {
	if img == nil {
		return schema.UserMessage(text)
	}

	parts := make([]schema.ChatMessagePart, 0, 2)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: text,
		})
	}
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeImageURL,
		ImageURL: &schema.ChatMessageImageURL{
			URL:      "data:" + img.MimeType + ";base64," + img.Data,
			MIMEType: img.MimeType,
		},
	})

	return &schema.Message{
		Role:         schema.User,
		MultiContent: parts,
	}
}

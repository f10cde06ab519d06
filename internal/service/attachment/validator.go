// Package attachment validates inline image attachments before they enter a conversation.
package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/projectq/projectq/backend/internal/model/chat"
)

// Reason identifies which check rejected an attachment.
type Reason string

const (
	ReasonUnsupportedType   Reason = "unsupported_type"
	ReasonMalformedEncoding Reason = "malformed_encoding"
	ReasonTooLarge          Reason = "too_large"
	ReasonContentMismatch   Reason = "content_mismatch"
)

// ValidationError reports a rejected attachment. Message is safe to show to the caller.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// signaturePrefixLen is how much of the payload is decoded for the magic-byte check.
const signaturePrefixLen = 20

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

var magicBytes = map[string][][]byte{
	chat.MIMETypeJPEG: {{0xff, 0xd8, 0xff}},
	chat.MIMETypePNG:  {{0x89, 0x50, 0x4e, 0x47}},
	chat.MIMETypeGIF:  {{0x47, 0x49, 0x46, 0x38}}, // GIF87a / GIF89a
	chat.MIMETypeWEBP: {{0x52, 0x49, 0x46, 0x46}}, // RIFF
}

// Validator checks attachments against the MIME allow-list, encoding, size and content signature.
// The zero value uses chat.MaxImageBytes.
type Validator struct {
	MaxBytes int
}

// NewValidator returns a Validator with the given decoded-size limit; non-positive means default.
func NewValidator(maxBytes int) Validator {
	return Validator{MaxBytes: maxBytes}
}

func (v Validator) maxBytes() int {
	if v.MaxBytes <= 0 {
		return chat.MaxImageBytes
	}
	return v.MaxBytes
}

// Validate runs the checks in order and returns the first failure, or nil.
func (v Validator) Validate(img chat.ImageAttachment) error {
	signatures, ok := magicBytes[img.MimeType]
	if !ok {
		return &ValidationError{
			Reason:  ReasonUnsupportedType,
			Message: "Invalid image type. Allowed: " + strings.Join(chat.AllowedMIMETypes, ", "),
		}
	}

	if strings.HasPrefix(img.Data, "data:") {
		return &ValidationError{Reason: ReasonMalformedEncoding, Message: "Image data should not include data: prefix"}
	}
	if !base64Pattern.MatchString(img.Data) {
		return &ValidationError{Reason: ReasonMalformedEncoding, Message: "Invalid Base64 format"}
	}

	limit := v.maxBytes()
	// len*3/4 estimates the decoded size without decoding the whole payload.
	if len(img.Data)*3 > limit*4 {
		return &ValidationError{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("Image too large. Maximum size: %sMB", formatMegabytes(limit)),
		}
	}

	head, err := decodePrefix(img.Data)
	if err != nil {
		return &ValidationError{Reason: ReasonContentMismatch, Message: "Invalid Base64 encoding"}
	}
	for _, magic := range signatures {
		if bytes.HasPrefix(head, magic) {
			return nil
		}
	}
	return &ValidationError{Reason: ReasonContentMismatch, Message: "Image content does not match declared MIME type"}
}

// decodePrefix decodes the leading whole base64 quanta of data, up to signaturePrefixLen characters.
func decodePrefix(data string) ([]byte, error) {
	n := len(data)
	if n > signaturePrefixLen {
		n = signaturePrefixLen
	}
	n -= n % 4
	return base64.StdEncoding.DecodeString(data[:n])
}

func formatMegabytes(limit int) string {
	return strconv.FormatFloat(float64(limit)/1024/1024, 'f', -1, 64)
}

package attachment

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectq/projectq/backend/internal/model/chat"
)

var (
	jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}
	pngBytes  = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d}
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00\x00\x00")
	webpBytes = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
)

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "expected *ValidationError, got %T", err)
	return vErr.Reason
}

func TestValidateAcceptsKnownSignatures(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		payload  []byte
	}{
		{"jpeg", chat.MIMETypeJPEG, jpegBytes},
		{"png", chat.MIMETypePNG, pngBytes},
		{"gif", chat.MIMETypeGIF, gifBytes},
		{"webp", chat.MIMETypeWEBP, webpBytes},
	}

	v := Validator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(chat.ImageAttachment{Data: encode(tt.payload), MimeType: tt.mimeType})
			assert.NoError(t, err)
		})
	}
}

func TestValidateAcceptsShortJPEG(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{Data: encode([]byte{0xff, 0xd8, 0xff}), MimeType: chat.MIMETypeJPEG})
	assert.NoError(t, err)
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{Data: encode(jpegBytes), MimeType: "image/bmp"})
	require.Error(t, err)
	assert.Equal(t, ReasonUnsupportedType, reasonOf(t, err))
	assert.Contains(t, err.Error(), "image/jpeg, image/png, image/gif, image/webp")
}

func TestValidateRejectsDataURIPrefix(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{
		Data:     "data:image/jpeg;base64," + encode(jpegBytes),
		MimeType: chat.MIMETypeJPEG,
	})
	require.Error(t, err)
	assert.Equal(t, ReasonMalformedEncoding, reasonOf(t, err))
	assert.Equal(t, "Image data should not include data: prefix", err.Error())
}

func TestValidateRejectsBadAlphabet(t *testing.T) {
	for _, data := range []string{"/9j/4AAQ$$", "/9j/ 4AAQ", "/9j/4A===", "ab=cd"} {
		err := Validator{}.Validate(chat.ImageAttachment{Data: data, MimeType: chat.MIMETypeJPEG})
		require.Error(t, err, data)
		assert.Equal(t, ReasonMalformedEncoding, reasonOf(t, err), data)
		assert.Equal(t, "Invalid Base64 format", err.Error(), data)
	}
}

func TestValidateRejectsOversizedPayload(t *testing.T) {
	// 7 MiB of base64 estimates to 5.25 MiB decoded.
	data := encode(jpegBytes[:3]) + strings.Repeat("A", 7*1024*1024)
	err := Validator{}.Validate(chat.ImageAttachment{Data: data, MimeType: chat.MIMETypeJPEG})
	require.Error(t, err)
	assert.Equal(t, ReasonTooLarge, reasonOf(t, err))
	assert.Equal(t, "Image too large. Maximum size: 5MB", err.Error())
}

func TestValidateReportsConfiguredLimit(t *testing.T) {
	v := NewValidator(1024 * 1024)
	data := strings.Repeat("A", 2*1024*1024)
	err := v.Validate(chat.ImageAttachment{Data: data, MimeType: chat.MIMETypePNG})
	require.Error(t, err)
	assert.Equal(t, "Image too large. Maximum size: 1MB", err.Error())
}

func TestValidateSizeBoundaryIsInclusive(t *testing.T) {
	// 16 chars estimate to exactly 12 bytes.
	v := NewValidator(12)
	err := v.Validate(chat.ImageAttachment{Data: encode(jpegBytes), MimeType: chat.MIMETypeJPEG})
	assert.NoError(t, err)

	v = NewValidator(11)
	err = v.Validate(chat.ImageAttachment{Data: encode(jpegBytes), MimeType: chat.MIMETypeJPEG})
	require.Error(t, err)
	assert.Equal(t, ReasonTooLarge, reasonOf(t, err))
}

func TestValidateRejectsMislabeledContent(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{Data: encode(pngBytes), MimeType: chat.MIMETypeJPEG})
	require.Error(t, err)
	assert.Equal(t, ReasonContentMismatch, reasonOf(t, err))
	assert.Equal(t, "Image content does not match declared MIME type", err.Error())
}

func TestValidateRejectsArbitraryBytes(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{Data: encode([]byte("#!/bin/sh\necho hi\n")), MimeType: chat.MIMETypeGIF})
	require.Error(t, err)
	assert.Equal(t, ReasonContentMismatch, reasonOf(t, err))
}

func TestValidateRejectsEmptyPayload(t *testing.T) {
	err := Validator{}.Validate(chat.ImageAttachment{Data: "", MimeType: chat.MIMETypeWEBP})
	require.Error(t, err)
	assert.Equal(t, ReasonContentMismatch, reasonOf(t, err))
}

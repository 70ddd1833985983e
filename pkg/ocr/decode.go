package ocr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrEmptyImage is returned by Decode when the payload holds no bytes.
var ErrEmptyImage = errors.New("empty image payload")

// Decode turns a base64 image payload into raw bytes. Both the standard and
// URL-safe alphabets are accepted, with or without padding, as is a
// "data:<mime>;base64," prefix.
func Decode(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.IndexByte(s, ','); idx > 0 {
			s = s[idx+1:]
		}
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			if len(b) == 0 {
				return nil, ErrEmptyImage
			}
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	return nil, fmt.Errorf("decode base64 image: %w", firstErr)
}

// DetectMIME sniffs the image type from its leading bytes.
func DetectMIME(image []byte) string {
	return http.DetectContentType(image)
}

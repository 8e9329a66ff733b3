package uploads

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid data URL")

// data:<mediatype>;base64,<payload>. Media type parameters before the base64
// marker are tolerated and dropped.
var dataURLPattern = regexp.MustCompile(`(?s)^data:([^;,]+)((?:;[^;,]*)*?);base64,(.+)$`)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// ParseDataURL splits a base64 data URL into its media type and decoded bytes.
func ParseDataURL(dataURL string) (string, []byte, error) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(dataURL))
	if m == nil {
		return "", nil, fmt.Errorf("%w: expected data:<mime>;base64,<payload>", ErrInvalidDataURL)
	}

	mime := strings.ToLower(strings.TrimSpace(m[1]))
	payload := strings.TrimSpace(m[3])

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, fmt.Errorf("%w: bad base64 payload", ErrInvalidDataURL)
		}
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}
	return mime, data, nil
}

// ExtensionFor maps a whitelisted image type to its file extension. Anything
// else is stored as .bin.
func ExtensionFor(mime string) string {
	if ext, ok := extensions[strings.ToLower(mime)]; ok {
		return ext
	}
	return ".bin"
}

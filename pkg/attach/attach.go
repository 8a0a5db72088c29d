// Package attach turns user-supplied image references into the opaque
// image references carried by messages.
package attach

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// MaxImageBytes bounds an inlined image file.
const MaxImageBytes = 20 << 20

// ImageRef returns ref unchanged when it is already a URL or data URL, and
// otherwise reads it as a file and inlines it as a base64 data URL.
func ImageRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if isURL(ref) {
		return ref, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("could not read image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("could not read image: %s is a directory", ref)
	}
	if info.Size() > MaxImageBytes {
		return "", fmt.Errorf("image %s is %d bytes, the limit is %d", ref, info.Size(), MaxImageBytes)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("could not read image: %w", err)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s does not look like an image (%s)", ref, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func isURL(ref string) bool {
	for _, prefix := range []string{"http://", "https://", "data:"} {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

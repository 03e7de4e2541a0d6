package convert

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	dataURLScheme = "data:"
	base64Marker  = ";base64,"
)

// EncodeDataURL reads r to the end and returns its contents as a
// self-describing base64 data URL, e.g. "data:image/png;base64,iVBOR...".
// The MIME type is sniffed from the content.
func EncodeDataURL(ctx context.Context, r io.Reader) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("encode data URL: %w", ctxErr)
	}

	data, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", fmt.Errorf("read source: %w", readErr)
	}

	mimeType := mimetype.Detect(data).String()

	var builder strings.Builder
	builder.Grow(len(dataURLScheme) + len(mimeType) + len(base64Marker) +
		base64.StdEncoding.EncodedLen(len(data)))
	builder.WriteString(dataURLScheme)
	builder.WriteString(mimeType)
	builder.WriteString(base64Marker)
	builder.WriteString(base64.StdEncoding.EncodeToString(data))

	return builder.String(), nil
}

// DecodeDataURL splits a base64 data URL into its MIME type and payload.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, dataURLScheme)
	if !ok {
		return "", nil, fmt.Errorf("%w: missing %q scheme", ErrInvalidDataURL, dataURLScheme)
	}

	mimeType, payload, found := strings.Cut(rest, base64Marker)
	if !found {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}

	data, decodeErr := base64.StdEncoding.DecodeString(payload)
	if decodeErr != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidDataURL, decodeErr)
	}

	return mimeType, data, nil
}

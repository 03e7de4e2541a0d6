// Package convert wraps the third-party engines behind the three conversion
// flows: image compression, image-to-PDF assembly and PDF page rendering.
package convert

import (
	"errors"
	"regexp"
)

var (
	// ErrUndecodableImage is returned when the compressor cannot decode its input.
	ErrUndecodableImage = errors.New("input is not a decodable image")
	// ErrInvalidDataURL is returned when a data URL cannot be parsed.
	ErrInvalidDataURL = errors.New("invalid data URL")
	// ErrPageHasImage is returned when a second image is placed on one page.
	ErrPageHasImage = errors.New("page already holds an image")
	// ErrEmptyPage is returned on export when a page was added but never filled.
	ErrEmptyPage = errors.New("page has no image")
	// ErrUnsupportedPlacement is returned for placements the assembler cannot honour.
	ErrUnsupportedPlacement = errors.New("unsupported image placement")
	// ErrUnknownEngine is returned for an unrecognised render engine name.
	ErrUnknownEngine = errors.New("unknown render engine")
	// ErrPageOutOfRange is returned when a page number is outside 1..PageCount.
	ErrPageOutOfRange = errors.New("page number out of range")
)

// Blob is an in-memory file: a name, a MIME type and its bytes.
type Blob struct {
	Name     string
	MIMEType string
	Data     []byte
}

var trailingExtension = regexp.MustCompile(`\.[^/.]+$`)

// StripExtension removes the last extension from a file name.
// "report.final.pdf" becomes "report.final"; ".pdf" becomes "".
func StripExtension(name string) string {
	return trailingExtension.ReplaceAllString(name, "")
}

func defaultIntNonPositive(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

func defaultFloatNonPositive(v, def float64) float64 {
	if v <= 0 {
		return def
	}

	return v
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

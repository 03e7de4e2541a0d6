package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	// a4WidthMM is the width of the page format every assembled page uses.
	a4WidthMM = 210.0

	pointsPerMM = 72 / 25.4

	// PDFMIMEType is the MIME type of documents produced by PDFBuilder.
	PDFMIMEType = "application/pdf"
)

// supportedImageFormats lists the format hints AddImage accepts. The hint is
// advisory; the actual format is sniffed from the payload.
var supportedImageFormats = map[string]bool{
	"JPEG": true,
	"JPG":  true,
	"PNG":  true,
	"GIF":  true,
	"TIFF": true,
	"WEBP": true,
	"BMP":  true,
}

// DocumentBuilder assembles a document page by page. A new builder starts
// with one empty page.
type DocumentBuilder interface {
	// AddPage appends a new empty page and makes it current.
	AddPage()
	// AddImage places an image, given as a data URL, on the current page.
	// Coordinates are in millimetres from the top-left corner; a height of 0
	// keeps the image's aspect ratio.
	AddImage(dataURL, format string, x, y, width, height float64) error
	// Export renders the document.
	Export(ctx context.Context) ([]byte, error)
}

type builderPage struct {
	image      []byte
	x, y       float64
	width      float64
	pixelsWide int
	hasImage   bool
}

// PDFBuilder is a DocumentBuilder producing A4 PDF documents with pdfcpu.
type PDFBuilder struct {
	conf  *model.Configuration
	pages []*builderPage
}

// NewPDFBuilder creates a PDFBuilder holding its initial page.
func NewPDFBuilder() *PDFBuilder {
	return &PDFBuilder{
		conf:  model.NewDefaultConfiguration(),
		pages: []*builderPage{{}},
	}
}

// AddPage implements DocumentBuilder.
func (builder *PDFBuilder) AddPage() {
	builder.pages = append(builder.pages, &builderPage{})
}

// AddImage implements DocumentBuilder.
func (builder *PDFBuilder) AddImage(dataURL, format string, x, y, width, height float64) error {
	if !supportedImageFormats[strings.ToUpper(format)] {
		return fmt.Errorf("%w: format %q", ErrUnsupportedPlacement, format)
	}

	if height != 0 {
		return fmt.Errorf("%w: only automatic height is supported", ErrUnsupportedPlacement)
	}

	if width <= 0 || width > a4WidthMM {
		return fmt.Errorf("%w: width %.1fmm", ErrUnsupportedPlacement, width)
	}

	_, data, decodeErr := DecodeDataURL(dataURL)
	if decodeErr != nil {
		return decodeErr
	}

	current := builder.pages[len(builder.pages)-1]
	if current.hasImage {
		return fmt.Errorf("page %d: %w", len(builder.pages), ErrPageHasImage)
	}

	imageConfig, _, configErr := image.DecodeConfig(bytes.NewReader(data))
	if configErr != nil {
		return fmt.Errorf("%w: %w", ErrUndecodableImage, configErr)
	}

	if imageConfig.Width <= 0 {
		return fmt.Errorf("%w: image has no width", ErrUndecodableImage)
	}

	current.image = data
	current.pixelsWide = imageConfig.Width
	current.x = x
	current.y = y
	current.width = width
	current.hasImage = true

	return nil
}

// Export implements DocumentBuilder. Pages are appended one import at a time so
// every page keeps its own placement.
func (builder *PDFBuilder) Export(ctx context.Context) ([]byte, error) {
	var document []byte

	for index, page := range builder.pages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("export canceled: %w", ctxErr)
		}

		if !page.hasImage {
			return nil, fmt.Errorf("page %d: %w", index+1, ErrEmptyPage)
		}

		imp, importErr := importDetails(page)
		if importErr != nil {
			return nil, importErr
		}

		var source io.ReadSeeker
		if document != nil {
			source = bytes.NewReader(document)
		}

		var out bytes.Buffer

		addErr := api.ImportImages(source, &out, []io.Reader{bytes.NewReader(page.image)}, imp, builder.conf)
		if addErr != nil {
			return nil, fmt.Errorf("add page %d: %w", index+1, addErr)
		}

		document = out.Bytes()
	}

	pageCount, countErr := DocumentPageCount(document)
	if countErr != nil {
		return nil, countErr
	}

	if pageCount != len(builder.pages) {
		return nil, fmt.Errorf("assembled %d pages, expected %d", pageCount, len(builder.pages))
	}

	return document, nil
}

// importDetails translates a page placement into a pdfcpu import description.
// The scale is absolute, in points per image pixel, so the image is exactly
// width millimetres wide and its height follows the aspect ratio. pdfcpu
// measures offsets from the anchor upwards, hence the negated y.
func importDetails(page *builderPage) (*pdfcpu.Import, error) {
	description := fmt.Sprintf(
		"formsize:A4, position:tl, offset:%.2f %.2f, scalefactor:%.6f abs",
		page.x,
		-page.y,
		absoluteScale(page.width, page.pixelsWide),
	)

	imp, parseErr := api.Import(description, types.MILLIMETRES)
	if parseErr != nil {
		return nil, fmt.Errorf("build import details: %w", parseErr)
	}

	return imp, nil
}

// absoluteScale returns the points per pixel that make an image pixelsWide
// pixels wide span widthMM millimetres.
func absoluteScale(widthMM float64, pixelsWide int) float64 {
	return widthMM * pointsPerMM / float64(pixelsWide)
}

// DocumentPageCount returns the number of pages of a PDF document.
func DocumentPageCount(document []byte) (int, error) {
	pageCount, countErr := api.PageCount(bytes.NewReader(document), model.NewDefaultConfiguration())
	if countErr != nil {
		return 0, fmt.Errorf("count pages: %w", countErr)
	}

	return pageCount, nil
}

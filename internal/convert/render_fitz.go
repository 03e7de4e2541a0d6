package convert

import (
	"context"
	"fmt"
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// FitzEngine renders documents with MuPDF through go-fitz.
type FitzEngine struct{}

// NewFitzEngine creates a FitzEngine.
func NewFitzEngine() *FitzEngine {
	return &FitzEngine{}
}

// Open implements RenderEngine.
func (engine *FitzEngine) Open(ctx context.Context, data []byte) (Document, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	doc, openErr := fitz.NewFromMemory(data)
	if openErr != nil {
		return nil, fmt.Errorf("open pdf: %w", openErr)
	}

	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (document *fitzDocument) PageCount() int {
	return document.doc.NumPage()
}

func (document *fitzDocument) Page(ctx context.Context, number int) (Page, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if rangeErr := checkPageNumber(number, document.PageCount()); rangeErr != nil {
		return nil, rangeErr
	}

	return &fitzPage{doc: document.doc, index: number - 1}, nil
}

func (document *fitzDocument) Close() error {
	return document.doc.Close()
}

type fitzPage struct {
	doc   *fitz.Document
	index int
}

func (page *fitzPage) Render(ctx context.Context, scale float64) (image.Image, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	img, renderErr := page.doc.ImageDPI(page.index, dpiForScale(scale))
	if renderErr != nil {
		return nil, fmt.Errorf("render page %d: %w", page.index+1, renderErr)
	}

	return img, nil
}

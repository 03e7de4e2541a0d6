package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

var (
	pdfiumPool     pdfium.Pool
	pdfiumPoolOnce sync.Once
	pdfiumPoolErr  error
)

func initPdfiumPool() {
	pdfiumPool, pdfiumPoolErr = webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
}

// PdfiumEngine renders documents with PDFium running as WebAssembly.
type PdfiumEngine struct {
	instanceTimeout time.Duration
}

// NewPdfiumEngine creates a PdfiumEngine. The shared pool is started lazily
// on first use.
func NewPdfiumEngine(instanceTimeout time.Duration) *PdfiumEngine {
	return &PdfiumEngine{instanceTimeout: instanceTimeout}
}

// Open implements RenderEngine. The document keeps its pdfium instance until
// Close.
func (engine *PdfiumEngine) Open(ctx context.Context, data []byte) (Document, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	pdfiumPoolOnce.Do(initPdfiumPool)

	if pdfiumPoolErr != nil {
		return nil, fmt.Errorf("init pdfium: %w", pdfiumPoolErr)
	}

	instance, instanceErr := pdfiumPool.GetInstance(engine.instanceTimeout)
	if instanceErr != nil {
		return nil, fmt.Errorf("get pdfium instance: %w", instanceErr)
	}

	doc, openErr := instance.OpenDocument(&requests.OpenDocument{File: &data})
	if openErr != nil {
		_ = instance.Close()

		return nil, fmt.Errorf("open pdf: %w", openErr)
	}

	countResp, countErr := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if countErr != nil {
		closeErr := closePdfiumDocument(instance, doc.Document)

		return nil, errors.Join(fmt.Errorf("get page count: %w", countErr), closeErr)
	}

	return &pdfiumDocument{
		instance:  instance,
		handle:    doc.Document,
		pageCount: countResp.PageCount,
	}, nil
}

func closePdfiumDocument(instance pdfium.Pdfium, handle references.FPDF_DOCUMENT) error {
	_, closeDocErr := instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: handle})
	closeInstanceErr := instance.Close()

	return errors.Join(closeDocErr, closeInstanceErr)
}

type pdfiumDocument struct {
	instance  pdfium.Pdfium
	handle    references.FPDF_DOCUMENT
	pageCount int
}

func (document *pdfiumDocument) PageCount() int {
	return document.pageCount
}

func (document *pdfiumDocument) Page(ctx context.Context, number int) (Page, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if rangeErr := checkPageNumber(number, document.pageCount); rangeErr != nil {
		return nil, rangeErr
	}

	return &pdfiumPage{document: document, index: number - 1}, nil
}

func (document *pdfiumDocument) Close() error {
	return closePdfiumDocument(document.instance, document.handle)
}

type pdfiumPage struct {
	document *pdfiumDocument
	cleanup  func()
	index    int
}

func (page *pdfiumPage) Render(ctx context.Context, scale float64) (image.Image, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	rendered, renderErr := page.document.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: page.document.handle,
				Index:    page.index,
			},
		},
		DPI: int(math.Round(dpiForScale(scale))),
	})
	if renderErr != nil {
		return nil, fmt.Errorf("render page %d: %w", page.index+1, renderErr)
	}

	page.cleanup = rendered.Cleanup

	return rendered.Result.Image, nil
}

// Release frees the bitmap backing the last rendered image.
func (page *pdfiumPage) Release() {
	if page.cleanup != nil {
		page.cleanup()
		page.cleanup = nil
	}
}

package flow_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
)

var errEngine = errors.New("engine failure")

func newTestDeps(t *testing.T) (flow.Deps, *alerts, *artifact.MemoryStore) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	notes := &alerts{}
	store := artifact.NewMemoryStore()

	return flow.Deps{
		Store:      store,
		Log:        log,
		Notifier:   notes,
		Publisher:  nil,
		WorkflowID: "wf-test",
	}, notes, store
}

// testImageFile returns a small PNG whose pixels depend on name, so files with
// different names have different contents.
func testImageFile(t *testing.T, name string) flow.SelectedFile {
	t.Helper()

	seed := uint8(len(name))
	for _, r := range name {
		seed += uint8(r)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := range 3 {
		for x := range 4 {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 80), B: seed, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return flow.SelectedFile{Name: name, MIMEType: "image/png", Data: buf.Bytes()}
}

type alerts struct {
	messages []string
	mu       sync.Mutex
}

func (a *alerts) Alert(message string) {
	a.mu.Lock()
	a.messages = append(a.messages, message)
	a.mu.Unlock()
}

func (a *alerts) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.messages...)
}

// fakeCompressor records its calls and returns a fixed blob. When started is
// set it blocks until proceed is closed.
type fakeCompressor struct {
	err     error
	started chan struct{}
	proceed chan struct{}
	calls   []convert.CompressOptions
	mu      sync.Mutex
}

func (c *fakeCompressor) Compress(
	ctx context.Context,
	blob convert.Blob,
	opts convert.CompressOptions,
) (convert.Blob, error) {
	c.mu.Lock()
	c.calls = append(c.calls, opts)
	c.mu.Unlock()

	if c.started != nil {
		close(c.started)
		<-c.proceed
	}

	if c.err != nil {
		return convert.Blob{}, c.err
	}

	return convert.Blob{
		Name:     convert.StripExtension(blob.Name) + ".jpg",
		MIMEType: "image/jpeg",
		Data:     []byte("compressed:" + blob.Name),
	}, nil
}

func (c *fakeCompressor) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.calls)
}

type placement struct {
	dataURL string
	format  string
	x, y    float64
	width   float64
	height  float64
}

// fakeBuilder records placements. When started is set Export blocks until
// proceed is closed.
type fakeBuilder struct {
	exportErr error
	started   chan struct{}
	proceed   chan struct{}
	images    []placement
	pages     int
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{pages: 1}
}

func (b *fakeBuilder) AddPage() { b.pages++ }

func (b *fakeBuilder) AddImage(dataURL, format string, x, y, width, height float64) error {
	b.images = append(b.images, placement{
		dataURL: dataURL, format: format, x: x, y: y, width: width, height: height,
	})

	return nil
}

func (b *fakeBuilder) Export(context.Context) ([]byte, error) {
	if b.started != nil {
		close(b.started)
		<-b.proceed
	}

	if b.exportErr != nil {
		return nil, b.exportErr
	}

	return []byte("%PDF-1.7 fake"), nil
}

// fakeRenderer opens documents with pages pages; page failAt fails to render.
// When started is set Open blocks until proceed is closed.
type fakeRenderer struct {
	openErr  error
	document *fakeDocument
	started  chan struct{}
	proceed  chan struct{}
	pages    int
	failAt   int
	opens    int
}

func (r *fakeRenderer) Open(context.Context, []byte) (convert.Document, error) {
	r.opens++

	if r.started != nil {
		close(r.started)
		<-r.proceed
	}

	if r.openErr != nil {
		return nil, r.openErr
	}

	r.document = &fakeDocument{pages: r.pages, failAt: r.failAt}

	return r.document, nil
}

type fakeDocument struct {
	pages    int
	failAt   int
	released int
	closed   bool
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) Page(_ context.Context, number int) (convert.Page, error) {
	return &fakePage{document: d, number: number}, nil
}

func (d *fakeDocument) Close() error {
	d.closed = true

	return nil
}

type fakePage struct {
	document *fakeDocument
	number   int
}

func (p *fakePage) Render(_ context.Context, scale float64) (image.Image, error) {
	if p.number == p.document.failAt {
		return nil, errEngine
	}

	size := int(10 * scale)
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.Set(x, y, color.RGBA{R: uint8(p.number * 40), G: uint8(x * 10), B: uint8(y * 10), A: 255})
		}
	}

	return img, nil
}

func (p *fakePage) Release() { p.document.released++ }

type publishedPage struct {
	ref    artifact.Ref
	number int
	total  int
}

type recordingPublisher struct {
	documents []artifact.Ref
	pages     []publishedPage
	mu        sync.Mutex
}

func (p *recordingPublisher) DocumentAssembled(_ context.Context, _ string, ref artifact.Ref) error {
	p.mu.Lock()
	p.documents = append(p.documents, ref)
	p.mu.Unlock()

	return nil
}

func (p *recordingPublisher) PageExtracted(_ context.Context, _ string, ref artifact.Ref, number, total int) error {
	p.mu.Lock()
	p.pages = append(p.pages, publishedPage{ref: ref, number: number, total: total})
	p.mu.Unlock()

	return nil
}

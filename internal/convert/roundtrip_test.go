package convert_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/fileconv-service/internal/convert"
)

const (
	// A4 at convert.PageScale.
	renderedPageWidth  = 1190
	renderedPageHeight = 1684

	// 10mm offset and 190mm width at convert.PageScale, in pixels.
	placedOffsetPx = 10 * 72 / 25.4 * convert.PageScale
	placedWidthPx  = 190 * 72 / 25.4 * convert.PageScale
	placementSlack = 4
)

func solidPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: 20, G: 40, B: 160, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

// inkBounds returns the bounding box of the non-white pixels of img.
func inkBounds(img image.Image) image.Rectangle {
	var ink image.Rectangle

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if (r>>8)+(g>>8)+(b>>8) < 600 {
				ink = ink.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}

	return ink
}

func buildTestDocument(t *testing.T, images ...[]byte) []byte {
	t.Helper()

	builder := convert.NewPDFBuilder()
	for index, payload := range images {
		if index > 0 {
			builder.AddPage()
		}

		require.NoError(t, builder.AddImage(dataURLFor(t, payload), "JPEG", 10, 10, 190, 0))
	}

	document, err := builder.Export(context.Background())
	require.NoError(t, err)

	return document
}

func TestRenderEngines_RenderAssembledDocument(t *testing.T) {
	t.Parallel()

	document := buildTestDocument(t, solidPNG(t, 400, 300), solidPNG(t, 100, 250))

	engines := map[string]convert.RenderEngine{
		"fitz":   convert.NewFitzEngine(),
		"pdfium": convert.NewPdfiumEngine(30 * time.Second),
	}

	for name, engine := range engines {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			opened, err := engine.Open(ctx, document)
			require.NoError(t, err)

			defer func() { require.NoError(t, opened.Close()) }()

			require.Equal(t, 2, opened.PageCount())

			for number := 1; number <= opened.PageCount(); number++ {
				page, pageErr := opened.Page(ctx, number)
				require.NoError(t, pageErr)

				rendered, renderErr := page.Render(ctx, convert.PageScale)
				convert.ReleasePage(page)
				require.NoError(t, renderErr)

				assert.Equal(t, renderedPageWidth, rendered.Bounds().Dx(), "page %d", number)
				assert.Equal(t, renderedPageHeight, rendered.Bounds().Dy(), "page %d", number)

				ink := inkBounds(rendered)
				require.False(t, ink.Empty(), "page %d shows its image", number)
				assert.InDelta(t, placedOffsetPx, ink.Min.X, placementSlack, "page %d left edge", number)
				assert.InDelta(t, placedOffsetPx, ink.Min.Y, placementSlack, "page %d top edge", number)
				assert.InDelta(t, placedWidthPx, ink.Dx(), placementSlack, "page %d width", number)
			}

			_, err = opened.Page(ctx, 3)
			require.ErrorIs(t, err, convert.ErrPageOutOfRange)
		})
	}
}

func TestRenderEngines_RejectInvalidDocument(t *testing.T) {
	t.Parallel()

	engines := map[string]convert.RenderEngine{
		"fitz":   convert.NewFitzEngine(),
		"pdfium": convert.NewPdfiumEngine(30 * time.Second),
	}

	for name, engine := range engines {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := engine.Open(context.Background(), []byte("this is not a PDF"))
			require.Error(t, err)
		})
	}
}

package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/panel"
)

func TestWorkspace_CloseRevokesEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, _, store := newTestDeps(t)
	workspace := flow.NewWorkspace("ws-1", flow.Engines{
		Compressor: &fakeCompressor{},
		NewBuilder: func() convert.DocumentBuilder { return newFakeBuilder() },
		Renderer:   &fakeRenderer{pages: 2},
	}, deps, flow.Settings{})

	assert.Equal(t, panel.Compressor, workspace.Panels.Active())

	require.NoError(t, workspace.Compression.Select(ctx, testImageFile(t, "a.png")))
	compressed, err := workspace.Compression.Compress(ctx)
	require.NoError(t, err)

	require.NoError(t, workspace.ImageToPDF.Select(ctx, []flow.SelectedFile{testImageFile(t, "b.png")}))
	document, err := workspace.ImageToPDF.Assemble(ctx)
	require.NoError(t, err)

	require.NoError(t, workspace.PDFToImage.Select(ctx, testPDFFile("c.pdf")))
	pages, err := workspace.PDFToImage.ExtractPages(ctx)
	require.NoError(t, err)

	assert.True(t, workspace.Owns(compressed.ID))
	assert.True(t, workspace.Owns(document.ID))
	assert.True(t, workspace.Owns(pages[1].Image.ID))
	assert.False(t, workspace.Owns("unknown"))
	assert.Equal(t, 5, store.Len())

	require.NoError(t, workspace.Close(ctx))
	assert.Zero(t, store.Len())
	assert.False(t, workspace.Owns(document.ID))

	require.ErrorIs(t, workspace.Compression.Select(ctx, testImageFile(t, "d.png")), artifact.ErrScopeClosed)
}

func TestWorkspace_FlowsAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, notes, _ := newTestDeps(t)
	workspace := flow.NewWorkspace("ws-2", flow.Engines{
		Compressor: &fakeCompressor{},
		NewBuilder: func() convert.DocumentBuilder { return newFakeBuilder() },
		Renderer:   &fakeRenderer{pages: 1},
	}, deps, flow.Settings{})

	require.NoError(t, workspace.Compression.Select(ctx, testImageFile(t, "a.png")))
	require.NoError(t, workspace.Panels.Show(panel.ImageToPDF))

	_, err := workspace.ImageToPDF.Assemble(ctx)
	require.ErrorIs(t, err, flow.ErrNoImagesSelected)
	assert.Equal(t, []string{flow.MsgSelectImages}, notes.all())
	assert.Equal(t, "a.png", workspace.Compression.State().Selected)
}

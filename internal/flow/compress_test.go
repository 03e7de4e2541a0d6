package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/flow"
)

func TestCompressionFlow_CompressWithoutSelection(t *testing.T) {
	t.Parallel()

	deps, notes, _ := newTestDeps(t)
	compressor := &fakeCompressor{}
	compression := flow.NewCompressionFlow(compressor, deps, flow.Settings{})

	_, err := compression.Compress(context.Background())
	require.ErrorIs(t, err, flow.ErrNoImageSelected)
	assert.Equal(t, []string{flow.MsgSelectImage}, notes.all())
	assert.Zero(t, compressor.callCount())
	assert.Nil(t, compression.State().After)
}

func TestCompressionFlow_Compress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, notes, store := newTestDeps(t)
	compressor := &fakeCompressor{}
	compression := flow.NewCompressionFlow(compressor, deps, flow.Settings{MaxSizeMB: 2, MaxWidthOrHeight: 800})

	input := testImageFile(t, "photo.png")
	require.NoError(t, compression.Select(ctx, input))

	state := compression.State()
	require.NotNil(t, state.Before)
	assert.Equal(t, "photo.png", state.Selected)
	assert.Nil(t, state.After)
	assert.Empty(t, state.DownloadLabel)

	label, err := compression.SetQuality(55)
	require.NoError(t, err)
	assert.Equal(t, "55", label)

	ref, err := compression.Compress(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes.all())

	require.Len(t, compressor.calls, 1)
	assert.InDelta(t, 0.55, compressor.calls[0].InitialQuality, 1e-9)
	assert.InDelta(t, 2.0, compressor.calls[0].MaxSizeMB, 1e-9)
	assert.Equal(t, 800, compressor.calls[0].MaxWidthOrHeight)

	stored, err := store.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", stored.Name)
	assert.Equal(t, []byte("compressed:photo.png"), stored.Data)

	state = compression.State()
	require.NotNil(t, state.After)
	assert.Equal(t, ref.ID, state.After.ID)
	assert.Equal(t, flow.CompressedDownloadLabel, state.DownloadLabel)
	assert.True(t, compression.Owns(ref.ID))
}

func TestCompressionFlow_RecompressRevokesPreviousOutput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, _, store := newTestDeps(t)
	compression := flow.NewCompressionFlow(&fakeCompressor{}, deps, flow.Settings{})

	require.NoError(t, compression.Select(ctx, testImageFile(t, "a.png")))

	first, err := compression.Compress(ctx)
	require.NoError(t, err)

	second, err := compression.Compress(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = store.Get(ctx, first.ID)
	require.ErrorIs(t, err, artifact.ErrNotFound)
	assert.False(t, compression.Owns(first.ID))
	assert.True(t, compression.Owns(second.ID))
}

func TestCompressionFlow_FailureKeepsPreviousOutput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, notes, store := newTestDeps(t)
	compressor := &fakeCompressor{}
	compression := flow.NewCompressionFlow(compressor, deps, flow.Settings{})

	require.NoError(t, compression.Select(ctx, testImageFile(t, "a.png")))

	ref, err := compression.Compress(ctx)
	require.NoError(t, err)

	compressor.err = errEngine

	_, err = compression.Compress(ctx)
	require.ErrorIs(t, err, errEngine)
	require.ErrorIs(t, err, flow.ErrConversionFailed)
	assert.Empty(t, notes.all(), "compression failures are logged, not alerted")

	state := compression.State()
	require.NotNil(t, state.After)
	assert.Equal(t, ref.ID, state.After.ID)

	_, err = store.Get(ctx, ref.ID)
	require.NoError(t, err)
}

func TestCompressionFlow_SelectRevokesEarlierArtifacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, _, store := newTestDeps(t)
	compression := flow.NewCompressionFlow(&fakeCompressor{}, deps, flow.Settings{})

	require.NoError(t, compression.Select(ctx, testImageFile(t, "a.png")))
	before := compression.State().Before
	require.NotNil(t, before)

	after, err := compression.Compress(ctx)
	require.NoError(t, err)

	require.NoError(t, compression.Select(ctx, testImageFile(t, "b.png")))

	for _, id := range []string{before.ID, after.ID} {
		_, getErr := store.Get(ctx, id)
		require.ErrorIs(t, getErr, artifact.ErrNotFound)
	}

	state := compression.State()
	assert.Equal(t, "b.png", state.Selected)
	assert.Nil(t, state.After)
	assert.Equal(t, 1, store.Len())
}

func TestCompressionFlow_SetQualityRange(t *testing.T) {
	t.Parallel()

	deps, _, _ := newTestDeps(t)
	compression := flow.NewCompressionFlow(&fakeCompressor{}, deps, flow.Settings{DefaultQuality: 70})
	assert.Equal(t, "70", compression.State().QualityLabel)

	for _, quality := range []int{0, -5, 101} {
		_, err := compression.SetQuality(quality)
		require.ErrorIs(t, err, flow.ErrQualityOutOfRange)
	}

	assert.Equal(t, "70", compression.State().QualityLabel)

	label, err := compression.SetQuality(100)
	require.NoError(t, err)
	assert.Equal(t, "100", label)
}

func TestCompressionFlow_BusyWhileCompressing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	deps, _, _ := newTestDeps(t)
	compressor := &fakeCompressor{started: make(chan struct{}), proceed: make(chan struct{})}
	compression := flow.NewCompressionFlow(compressor, deps, flow.Settings{})

	require.NoError(t, compression.Select(ctx, testImageFile(t, "a.png")))

	done := make(chan error, 1)

	go func() {
		_, err := compression.Compress(ctx)
		done <- err
	}()

	<-compressor.started
	assert.True(t, compression.State().Running)

	_, err := compression.Compress(ctx)
	require.ErrorIs(t, err, flow.ErrBusy)
	require.ErrorIs(t, compression.Select(ctx, testImageFile(t, "b.png")), flow.ErrBusy)

	close(compressor.proceed)
	require.NoError(t, <-done)
	assert.False(t, compression.State().Running)
	assert.Equal(t, 1, compressor.callCount())
}

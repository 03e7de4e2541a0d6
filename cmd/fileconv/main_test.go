package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/publish"
)

const sampleConfig = `
[server]
addr = ":9090"
session_ttl_minutes = 15
max_upload_mb = 32

[compression]
max_size_mb = 0.5
max_width_or_height = 1280
default_quality = 75

[render]
engine = "pdfium"
default_quality = 0.9
pdfium_timeout_seconds = 5

[nats]
url = "nats://localhost:4222"
object_store_bucket = "ARTIFACTS"

[paths]
base_logs_dir = "/var/log/fileconv"
output_dir = "/srv/out"
`

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := loadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15, cfg.Server.SessionTTLMinutes)
	assert.InDelta(t, 0.5, cfg.Compression.MaxSizeMB, 1e-9)
	assert.Equal(t, 75, cfg.Compression.DefaultQuality)
	assert.Equal(t, "pdfium", cfg.Render.Engine)
	assert.Equal(t, "ARTIFACTS", cfg.NATS.ObjectStoreBucket)
	assert.Equal(t, "/srv/out", cfg.Paths.OutputDir)
}

func TestSafeLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := safeLoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, config{}, cfg)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr = "), 0o600))

	_, err = safeLoadConfig(path)
	require.Error(t, err)
}

// TestMergeConfigAndFlags verifies that command-line flags override config
// file settings.
func TestMergeConfigAndFlags(t *testing.T) {
	t.Parallel()

	baseConfig := config{
		Server:      serverConfig{Addr: ":9090", SessionTTLMinutes: 15, MaxUploadMB: 32, AccessLog: true},
		Compression: compressionConfig{MaxSizeMB: 0.5, MaxWidthOrHeight: 1280, DefaultQuality: 75},
		Render:      renderConfig{Engine: "pdfium", DefaultQuality: 0.9, PdfiumTimeoutSeconds: 5},
		NATS:        natsConfig{URL: "nats://config:4222"},
		Paths:       pathsConfig{BaseLogsDir: "/config/logs", OutputDir: "/config/out"},
	}

	testCases := []struct {
		name     string
		flags    flags
		expected func(t *testing.T, opts options)
	}{
		{
			name: "Config values should be used when flags are not provided",
			expected: func(t *testing.T, opts options) {
				t.Helper()

				assert.Equal(t, ":9090", opts.Server.Addr)
				assert.Equal(t, 15*time.Minute, opts.Server.SessionTTL)
				assert.Equal(t, int64(32<<20), opts.Server.MaxUploadBytes)
				assert.True(t, opts.Server.AccessLog)
				assert.Equal(t, "pdfium", opts.Render.Engine)
				assert.Equal(t, 5*time.Second, opts.Render.PdfiumInstanceTimeout)
				assert.Equal(t, "nats://config:4222", opts.NATS.URL)
				assert.Equal(t, "/config/logs", opts.LogDir)
				assert.Equal(t, "/config/out", opts.OutputDir)
				assert.Equal(t, flow.Settings{
					MaxSizeMB:          0.5,
					MaxWidthOrHeight:   1280,
					DefaultQuality:     75,
					DefaultPageQuality: 0.9,
				}, opts.Settings)
			},
		},
		{
			name: "Flags should override all corresponding config values",
			flags: flags{
				logDir:      "/flag/logs",
				engine:      "ghostscript",
				natsURL:     "nats://flag:4222",
				addr:        ":7070",
				output:      "/flag/out",
				quality:     40,
				pageQuality: 0.5,
			},
			expected: func(t *testing.T, opts options) {
				t.Helper()

				assert.Equal(t, ":7070", opts.Server.Addr)
				assert.Equal(t, "ghostscript", opts.Render.Engine)
				assert.Equal(t, "nats://flag:4222", opts.NATS.URL)
				assert.Equal(t, "/flag/logs", opts.LogDir)
				assert.Equal(t, "/flag/out", opts.OutputDir)
				assert.Equal(t, 40, opts.Quality)
				assert.InDelta(t, 0.5, opts.PageQuality, 1e-9)
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig
			testCase.expected(t, mergeConfigAndFlags(&cfg, testCase.flags, "/root"))
		})
	}
}

func TestMergeConfigAndFlags_DefaultLogDir(t *testing.T) {
	t.Parallel()

	opts := mergeConfigAndFlags(&config{}, flags{}, "/project")
	assert.Equal(t, filepath.Join("/project", "logs", "fileconv"), opts.LogDir)
	assert.Equal(t, ".", outputDir(opts))
}

func TestCompressedName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "photo-compressed.jpg", compressedName("photo.jpg"))
	assert.Equal(t, "scan-compressed.png", compressedName("scan.png"))
	assert.Equal(t, "noext-compressed", compressedName("noext"))
}

func TestInputPDFs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := inputPDFs(dir)
	require.ErrorIs(t, err, errNoPDFsFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))

	paths, err := inputPDFs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf")}, paths)

	single := filepath.Join(dir, "a.pdf")
	paths, err = inputPDFs(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, paths)

	_, err = inputPDFs(filepath.Join(dir, "missing.pdf"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompressImageWritesOutput(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	inputDir := t.TempDir()
	inputPath := filepath.Join(inputDir, "photo.png")
	require.NoError(t, os.WriteFile(inputPath, buf.Bytes(), 0o600))

	outDir := t.TempDir()
	store := artifact.NewMemoryStore()
	application := &app{
		log:       log,
		store:     store,
		publisher: publish.Nop{},
		engines:   flow.Engines{Compressor: convert.NewCompressor()},
		opts:      options{OutputDir: outDir, Quality: 60},
	}

	require.NoError(t, compressImage(context.Background(), application, inputPath))

	written, err := os.ReadFile(filepath.Join(outDir, "photo-compressed.png"))
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(written))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
	assert.Zero(t, store.Len(), "the workspace is released after the command")
}

package convert

// Exported test-only accessors for unexported functions and fields.
// This file is compiled only during tests and does not affect the public API.

// ParsePdfInfoOutputForTest exposes parsePdfInfoOutput for tests in external package.
func ParsePdfInfoOutputForTest(s string) (int, error) { return parsePdfInfoOutput(s) }

// BuildGhostscriptArgsForTest exposes buildGhostscriptArgs.
func BuildGhostscriptArgsForTest(dpi, page int, outPath, pdfPath string) []string {
	return buildGhostscriptArgs(dpi, page, outPath, pdfPath)
}

// JPEGQualityForTest exposes the quality mapping used by EncodeJPEG.
func JPEGQualityForTest(quality float64) int { return jpegQuality(quality) }

// ApplyDefaultCompressOptionsForTest exposes applyDefaultCompressOptions.
func ApplyDefaultCompressOptionsForTest(opts CompressOptions) CompressOptions {
	applyDefaultCompressOptions(&opts)

	return opts
}

// Allow tests to inject a fake executor.
func (engine *GhostscriptEngine) SetExecutorForTest(exec CommandExecutor) {
	engine.executor = exec
}

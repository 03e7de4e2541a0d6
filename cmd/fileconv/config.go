package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/server"
)

const bytesPerMB = 1 << 20

type serverConfig struct {
	Addr              string `toml:"addr"`
	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
	MaxUploadMB       int    `toml:"max_upload_mb"`
	AccessLog         bool   `toml:"access_log"`
}

type compressionConfig struct {
	MaxSizeMB        float64 `toml:"max_size_mb"`
	MaxWidthOrHeight int     `toml:"max_width_or_height"`
	DefaultQuality   int     `toml:"default_quality"`
}

type renderConfig struct {
	Engine               string  `toml:"engine"`
	DefaultQuality       float64 `toml:"default_quality"`
	GhostscriptBinary    string  `toml:"ghostscript_binary"`
	PdfinfoBinary        string  `toml:"pdfinfo_binary"`
	PdfiumTimeoutSeconds int     `toml:"pdfium_timeout_seconds"`
}

// natsConfig enables the JetStream artifact store and event publication when
// URL is set.
type natsConfig struct {
	URL               string `toml:"url"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
	StreamName        string `toml:"stream_name"`
	PDFCreatedSubject string `toml:"pdf_created_subject"`
	PNGCreatedSubject string `toml:"png_created_subject"`
	TenantID          string `toml:"tenant_id"`
}

type pathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// config is the structure of project.toml.
type config struct {
	Server      serverConfig      `toml:"server"`
	Compression compressionConfig `toml:"compression"`
	Render      renderConfig      `toml:"render"`
	NATS        natsConfig        `toml:"nats"`
	Paths       pathsConfig       `toml:"paths"`
}

// flags are the command-line values that override project.toml.
type flags struct {
	configURL   string
	logDir      string
	engine      string
	natsURL     string
	addr        string
	output      string
	quality     int
	pageQuality float64
}

// options is the merged runtime configuration.
type options struct {
	ProjectRoot string
	LogDir      string
	OutputDir   string
	Server      server.Options
	Settings    flow.Settings
	Render      convert.RenderOptions
	NATS        natsConfig
	Quality     int
	PageQuality float64
}

// loadConfig reads the configuration from configURL when set, otherwise from
// the project.toml of the enclosing project. A missing project file yields an
// empty configuration rooted at the working directory.
func loadConfig(configURL string) (config, string, error) {
	if configURL != "" {
		cfg, err := loadConfigFromURL(configURL)

		return cfg, ".", err
	}

	projectRoot, configPath, findErr := configurator.FindProjectRoot(".")
	if findErr != nil {
		return config{}, ".", nil
	}

	cfg, err := safeLoadConfig(configPath)

	return cfg, projectRoot, err
}

func loadConfigFromURL(configURL string) (config, error) {
	var cfg config

	tempLogger, tempLoggerErr := logger.New(os.TempDir(), "fileconv-bootstrap.log")
	if tempLoggerErr != nil {
		return cfg, fmt.Errorf("failed to create bootstrap logger: %w", tempLoggerErr)
	}

	defer func() {
		if closeErr := tempLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close bootstrap logger: %v", closeErr)
		}
	}()

	loadErr := configurator.LoadFromURL(configURL, &cfg, tempLogger)
	if loadErr != nil {
		return cfg, fmt.Errorf("failed to load configuration from URL %s: %w", configURL, loadErr)
	}

	return cfg, nil
}

// safeLoadConfig loads the TOML config, allowing a missing file.
func safeLoadConfig(path string) (config, error) {
	cfg, err := loadConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config{}, nil
		}

		return config{}, fmt.Errorf("error loading config file: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(path string) (config, error) {
	var cfg config

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", readErr)
	}

	decodeErr := toml.Unmarshal(data, &cfg)
	if decodeErr != nil {
		return config{}, fmt.Errorf("failed to decode config file: %w", decodeErr)
	}

	return cfg, nil
}

// mergeConfigAndFlags combines the config file with command-line flags.
// Flags take precedence over the config file.
func mergeConfigAndFlags(cfg *config, flgs flags, projectRoot string) options {
	opts := options{
		ProjectRoot: projectRoot,
		LogDir:      cfg.Paths.BaseLogsDir,
		OutputDir:   cfg.Paths.OutputDir,
		Server: server.Options{
			Addr:           cfg.Server.Addr,
			SessionTTL:     time.Duration(cfg.Server.SessionTTLMinutes) * time.Minute,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) * bytesPerMB,
			AccessLog:      cfg.Server.AccessLog,
		},
		Settings: flow.Settings{
			MaxSizeMB:          cfg.Compression.MaxSizeMB,
			MaxWidthOrHeight:   cfg.Compression.MaxWidthOrHeight,
			DefaultQuality:     cfg.Compression.DefaultQuality,
			DefaultPageQuality: cfg.Render.DefaultQuality,
		},
		Render: convert.RenderOptions{
			Engine:                cfg.Render.Engine,
			GhostscriptBinary:     cfg.Render.GhostscriptBinary,
			PdfinfoBinary:         cfg.Render.PdfinfoBinary,
			PdfiumInstanceTimeout: time.Duration(cfg.Render.PdfiumTimeoutSeconds) * time.Second,
		},
		NATS:        cfg.NATS,
		Quality:     flgs.quality,
		PageQuality: flgs.pageQuality,
	}

	if flgs.logDir != "" {
		opts.LogDir = flgs.logDir
	}

	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(projectRoot, "logs", "fileconv")
	}

	if flgs.output != "" {
		opts.OutputDir = flgs.output
	}

	if flgs.engine != "" {
		opts.Render.Engine = flgs.engine
	}

	if flgs.natsURL != "" {
		opts.NATS.URL = flgs.natsURL
	}

	if flgs.addr != "" {
		opts.Server.Addr = flgs.addr
	}

	return opts
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(logDir string) (*logger.Logger, error) {
	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	appLogger, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return appLogger, nil
}

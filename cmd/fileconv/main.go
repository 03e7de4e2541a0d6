// Command fileconv compresses images, assembles images into a PDF and renders
// PDF pages to JPEG images, from the command line or as a web page.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, os.Args[1:])
	if runErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		stop()
		os.Exit(1)
	}
}

// run builds the command tree and executes it with args.
func run(ctx context.Context, args []string) error {
	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

// command carries the state shared by a command invocation.
type command struct {
	flgs flags
}

func newRootCommand() *cobra.Command {
	cmd := &command{}

	rootCmd := &cobra.Command{
		Use:           "fileconv",
		Short:         "Compress images, turn images into a PDF, and PDF pages into images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cmd.flgs.configURL, "config-url", "", "Load configuration from this URL instead of project.toml")
	rootCmd.PersistentFlags().StringVar(&cmd.flgs.logDir, "log-dir", "", "Directory for log files")
	rootCmd.PersistentFlags().StringVar(&cmd.flgs.engine, "engine", "", "PDF render engine: fitz, pdfium or ghostscript")
	rootCmd.PersistentFlags().StringVar(&cmd.flgs.natsURL, "nats-url", "", "NATS server URL; enables the JetStream artifact store and events")

	rootCmd.AddCommand(
		cmd.serveCommand(),
		cmd.compressCommand(),
		cmd.imageToPDFCommand(),
		cmd.pdfToImageCommand(),
	)

	return rootCmd
}

// withApp loads the configuration, sets up logging and the app, and runs fn.
func (cmd *command) withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, projectRoot, cfgErr := loadConfig(cmd.flgs.configURL)
	if cfgErr != nil {
		return cfgErr
	}

	opts := mergeConfigAndFlags(&cfg, cmd.flgs, projectRoot)

	appLogger, loggerErr := setupLogger(opts.LogDir)
	if loggerErr != nil {
		return fmt.Errorf("could not set up logger: %w", loggerErr)
	}

	defer closeLogger(appLogger)

	application, appErr := newApp(ctx, opts, appLogger)
	if appErr != nil {
		appLogger.Error("Startup failed: %v", appErr)

		return appErr
	}
	defer application.Close()

	return fn(ctx, application)
}

func closeLogger(appLogger *logger.Logger) {
	if closeErr := appLogger.Close(); closeErr != nil {
		log.Printf("Warning: failed to close logger: %v", closeErr)
	}
}

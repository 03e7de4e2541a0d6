package main

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/convert"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/publish"
)

const (
	defaultObjectStoreBucket = "FILECONV_ARTIFACTS"
	defaultStreamName        = "FILECONV_EVENTS"
	defaultPDFCreatedSubject = "fileconv.pdf.created"
	defaultPNGCreatedSubject = "fileconv.page.created"
)

// app holds the long-lived collaborators shared by every workspace.
type app struct {
	log       *logger.Logger
	store     artifact.Store
	publisher publish.Publisher
	natsConn  *nats.Conn
	engines   flow.Engines
	opts      options
}

func newApp(ctx context.Context, opts options, appLogger *logger.Logger) (*app, error) {
	renderer, renderErr := convert.NewRenderEngine(opts.Render)
	if renderErr != nil {
		return nil, fmt.Errorf("failed to create render engine: %w", renderErr)
	}

	application := &app{
		log:       appLogger,
		store:     artifact.NewMemoryStore(),
		publisher: publish.Nop{},
		opts:      opts,
		engines: flow.Engines{
			Compressor: convert.NewCompressor(),
			NewBuilder: func() convert.DocumentBuilder { return convert.NewPDFBuilder() },
			Renderer:   renderer,
		},
	}

	if opts.NATS.URL == "" {
		return application, nil
	}

	natsErr := application.connectNATS(ctx)
	if natsErr != nil {
		application.Close()

		return nil, natsErr
	}

	return application, nil
}

// connectNATS moves artifact storage to a JetStream object store and
// announces every produced artifact.
func (application *app) connectNATS(ctx context.Context) error {
	cfg := application.opts.NATS
	applyNATSDefaults(&cfg)

	natsConnection, connErr := nats.Connect(cfg.URL)
	if connErr != nil {
		return fmt.Errorf("failed to connect to NATS: %w", connErr)
	}

	application.natsConn = natsConnection
	application.log.Info("Connected to NATS server at %s", natsConnection.ConnectedUrl())

	jetStream, jsErr := jetstream.New(natsConnection)
	if jsErr != nil {
		return fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	objectStore, storeErr := artifact.EnsureObjectStore(ctx, jetStream, cfg.ObjectStoreBucket)
	if storeErr != nil {
		return storeErr
	}

	subjects := publish.Subjects{PDFCreated: cfg.PDFCreatedSubject, PNGCreated: cfg.PNGCreatedSubject}

	streamErr := publish.EnsureStream(ctx, jetStream, cfg.StreamName, subjects)
	if streamErr != nil {
		return streamErr
	}

	application.store = objectStore
	application.publisher = publish.NewJetStream(jetStream, subjects, cfg.TenantID)

	return nil
}

func applyNATSDefaults(cfg *natsConfig) {
	if cfg.ObjectStoreBucket == "" {
		cfg.ObjectStoreBucket = defaultObjectStoreBucket
	}

	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}

	if cfg.PDFCreatedSubject == "" {
		cfg.PDFCreatedSubject = defaultPDFCreatedSubject
	}

	if cfg.PNGCreatedSubject == "" {
		cfg.PNGCreatedSubject = defaultPNGCreatedSubject
	}
}

// newWorkspace creates a workspace whose alerts go to notifier.
func (application *app) newWorkspace(id string, notifier flow.Notifier) *flow.Workspace {
	return flow.NewWorkspace(id, application.engines, flow.Deps{
		Store:      application.store,
		Log:        application.log,
		Notifier:   notifier,
		Publisher:  application.publisher,
		WorkflowID: id,
	}, application.opts.Settings)
}

// cliWorkspace creates a workspace printing alerts to stderr.
func (application *app) cliWorkspace() *flow.Workspace {
	return application.newWorkspace(uuid.New().String(), flow.NotifierFunc(func(message string) {
		_, _ = fmt.Fprintln(os.Stderr, message)
	}))
}

// Close releases the NATS connection, if any.
func (application *app) Close() {
	if application.natsConn != nil {
		application.natsConn.Close()
	}
}

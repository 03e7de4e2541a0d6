// Package publish announces produced artifacts to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/fileconv-service/internal/artifact"
)

// Publisher is told about every artifact a conversion produces.
type Publisher interface {
	DocumentAssembled(ctx context.Context, workflowID string, ref artifact.Ref) error
	PageExtracted(ctx context.Context, workflowID string, ref artifact.Ref, pageNumber, totalPages int) error
}

// Nop discards every announcement.
type Nop struct{}

// DocumentAssembled implements Publisher.
func (Nop) DocumentAssembled(context.Context, string, artifact.Ref) error { return nil }

// PageExtracted implements Publisher.
func (Nop) PageExtracted(context.Context, string, artifact.Ref, int, int) error { return nil }

// Subjects names the JetStream subjects events go to.
type Subjects struct {
	PDFCreated string
	PNGCreated string
}

// JetStream publishes PDFCreatedEvent and PNGCreatedEvent messages, keyed by
// artifact ID.
type JetStream struct {
	jetStream jetstream.JetStream
	subjects  Subjects
	tenantID  string
}

// NewJetStream creates a JetStream publisher.
func NewJetStream(jetStream jetstream.JetStream, subjects Subjects, tenantID string) *JetStream {
	return &JetStream{jetStream: jetStream, subjects: subjects, tenantID: tenantID}
}

// EnsureStream creates the stream carrying the publisher's subjects.
func EnsureStream(ctx context.Context, jetStream jetstream.JetStream, name string, subjects Subjects) error {
	_, streamErr := jetStream.CreateStream(ctx, *newStreamConfig(name, subjects.PDFCreated, subjects.PNGCreated))
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream '%s': %w", name, streamErr)
	}

	return nil
}

func newStreamConfig(name string, subjects ...string) *jetstream.StreamConfig {
	return &jetstream.StreamConfig{
		Name:              name,
		Description:       "fileconv artifact events",
		Subjects:          subjects,
		Retention:         jetstream.WorkQueuePolicy,
		MaxConsumers:      -1,
		MaxMsgs:           -1,
		MaxBytes:          -1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: -1,
		MaxMsgSize:        -1,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Compression:       jetstream.NoCompression,
	}
}

func (publisher *JetStream) header(workflowID string) events.EventHeader {
	return events.EventHeader{
		WorkflowID: workflowID,
		UserID:     "",
		TenantID:   publisher.tenantID,
		EventID:    uuid.New().String(),
		Timestamp:  time.Now(),
	}
}

// DocumentAssembled implements Publisher.
func (publisher *JetStream) DocumentAssembled(ctx context.Context, workflowID string, ref artifact.Ref) error {
	event := events.PDFCreatedEvent{
		Header: publisher.header(workflowID),
		PDFKey: ref.ID,
	}

	return publisher.publish(ctx, publisher.subjects.PDFCreated, event)
}

// PageExtracted implements Publisher.
func (publisher *JetStream) PageExtracted(
	ctx context.Context,
	workflowID string,
	ref artifact.Ref,
	pageNumber, totalPages int,
) error {
	event := events.PNGCreatedEvent{
		Header:     publisher.header(workflowID),
		PNGKey:     ref.ID,
		PageNumber: pageNumber,
		TotalPages: totalPages,
	}

	return publisher.publish(ctx, publisher.subjects.PNGCreated, event)
}

func (publisher *JetStream) publish(ctx context.Context, subject string, event any) error {
	eventJSON, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal event: %w", marshalErr)
	}

	_, pubErr := publisher.jetStream.Publish(ctx, subject, eventJSON)
	if pubErr != nil {
		return fmt.Errorf("failed to publish to '%s': %w", subject, pubErr)
	}

	return nil
}

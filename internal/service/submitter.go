package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-sync/internal/circuit"
	"pos-sync/internal/client"
	"pos-sync/internal/models"
	"pos-sync/internal/retry"
	"pos-sync/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Submitter delivers one queued record to the back office. Only the record
// payload is sent; local bookkeeping fields never leave the terminal.
type Submitter interface {
	SubmitTransaction(ctx context.Context, rec models.QueuedTransaction) error
	SubmitInventoryUpdate(ctx context.Context, rec models.QueuedInventoryUpdate) error
}

// Poster is the HTTP call the submitter is built on
type Poster interface {
	Post(ctx context.Context, path string, body any, headers map[string]string) (*client.Response, error)
}

// ErrRejected is returned when the server answered 2xx but reported failure
var ErrRejected = errors.New("rejected by server")

// RejectedError carries the server message of a rejected submission
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return ErrRejected.Error()
	}
	return e.Message
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// idempotencyNamespace scopes the idempotency keys derived from local ids
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:pos-sync:offline-record"))

// IdempotencyKey derives a stable key for localID so a replayed submission can
// be deduplicated server side without exposing the local id itself.
func IdempotencyKey(localID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(localID)).String()
}

// BackOfficeSubmitter posts records through the circuit breaker and the retry executor
type BackOfficeSubmitter struct {
	client          Poster
	breaker         *circuit.Breaker
	retryOpts       retry.Options
	transactionPath string
	inventoryPath   string
	logger          *zap.Logger
}

// NewBackOfficeSubmitter creates a new submitter. An empty inventoryPath makes
// inventory updates reconcile by removal: they are acknowledged without a call.
func NewBackOfficeSubmitter(c Poster, breaker *circuit.Breaker, retryOpts retry.Options, transactionPath, inventoryPath string) *BackOfficeSubmitter {
	return &BackOfficeSubmitter{
		client:          c,
		breaker:         breaker,
		retryOpts:       retryOpts,
		transactionPath: transactionPath,
		inventoryPath:   inventoryPath,
		logger:          util.ComponentLogger("submitter"),
	}
}

// SubmitTransaction posts the sale payload
func (s *BackOfficeSubmitter) SubmitTransaction(ctx context.Context, rec models.QueuedTransaction) error {
	return s.submit(ctx, s.transactionPath, rec.LocalID, rec.Payload)
}

// SubmitInventoryUpdate posts the stock delta, or acknowledges it locally when
// no inventory endpoint is configured
func (s *BackOfficeSubmitter) SubmitInventoryUpdate(ctx context.Context, rec models.QueuedInventoryUpdate) error {
	if s.inventoryPath == "" {
		s.logger.Debug("Inventory update reconciled by removal", zap.String("local_id", rec.LocalID))
		return nil
	}
	return s.submit(ctx, s.inventoryPath, rec.LocalID, rec.Payload)
}

func (s *BackOfficeSubmitter) submit(ctx context.Context, path, localID string, body any) error {
	ctx, span := util.StartSpan(ctx, "BackOfficeSubmitter.Submit",
		attribute.String("sync.path", path),
		attribute.String("sync.local_id", localID))
	defer span.End()

	headers := map[string]string{"Idempotency-Key": IdempotencyKey(localID)}

	opts := s.retryOpts
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		s.logger.Warn("Retrying submission",
			zap.String("local_id", localID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	_, err := circuit.Call(ctx, s.breaker, func(ctx context.Context) (*client.Response, error) {
		return retry.Do(ctx, func(ctx context.Context) (*client.Response, error) {
			resp, err := s.client.Post(ctx, path, body, headers)
			if err != nil {
				return nil, err
			}
			if !resp.Success {
				return resp, &RejectedError{Message: resp.Message}
			}
			return resp, nil
		}, opts)
	})
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to submit to %s: %w", path, err)
	}
	return nil
}

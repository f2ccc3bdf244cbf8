// Package sender implements the HTTP batch sender with retry logic.
// It marshals metric batches to JSON, compresses with gzip, and POSTs
// them to the API ingestion endpoint with exponential backoff on failure.
package sender

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/vitalis-app/probe/internal/buffer"
	"github.com/vitalis-app/probe/internal/config"
	"github.com/vitalis-app/probe/internal/models"
)

const (
	// baseRetryDelay is the first backoff step between retries.
	baseRetryDelay = 2 * time.Second

	// maxRetryDelay caps the exponential backoff.
	maxRetryDelay = 30 * time.Second
)

var errRateLimited = errors.New("rate limited")

// Sender handles batch transmission to the API with retry logic
// and local buffering as a fallback when the server is unreachable.
type Sender struct {
	client *retryablehttp.Client
	cfg    *config.Config
	logger *zap.Logger
	buf    *buffer.Buffer
}

// New creates a new Sender with the given configuration, logger, and buffer.
// buf may be nil, in which case undeliverable batches are dropped.
func New(cfg *config.Config, logger *zap.Logger, buf *buffer.Buffer) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sender")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Server.MaxRetries
	client.RetryWaitMin = baseRetryDelay
	client.RetryWaitMax = maxRetryDelay
	client.HTTPClient.Timeout = cfg.Server.Timeout.Duration
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{logger.Sugar()}

	return &Sender{
		client: client,
		cfg:    cfg,
		logger: logger,
		buf:    buf,
	}
}

// checkRetry retries connection errors and 5xx responses. A 429 is never
// retried: the batch is buffered instead.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Send attempts to deliver a batch to the API.
// On failure after all retries, the batch is buffered locally for later transmission.
func (s *Sender) Send(ctx context.Context, batch models.MetricBatch) {
	if batch.AgentToken == "" {
		batch.AgentToken = s.cfg.Server.AgentToken
	}
	if batch.ServiceName == "" {
		batch.ServiceName = s.cfg.ServiceName
	}

	payload, err := compress(batch)
	if err != nil {
		s.logger.Error("Failed to encode batch", zap.Error(err))
		s.bufferBatch(batch)
		return
	}

	if err := s.doSend(ctx, payload); err != nil {
		if errors.Is(err, errRateLimited) {
			s.logger.Warn("Rate limited by server, buffering batch", zap.Error(err))
		} else {
			s.logger.Error("Send failed, buffering batch", zap.Error(err))
		}
		s.bufferBatch(batch)
		return
	}

	s.logger.Debug("Batch sent successfully",
		zap.Int("metrics", len(batch.Metrics)),
		zap.Int("profiles", len(batch.Profiles)))
}

func compress(batch models.MetricBatch) ([]byte, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}
	return compressed.Bytes(), nil
}

// doSend POSTs the compressed payload to the ingest endpoint, retrying per
// the client's policy.
func (s *Sender) doSend(ctx context.Context, payload []byte) error {
	url := fmt.Sprintf("%s/api/ingest", s.cfg.Server.URL)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Server.AgentToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (%d)", errRateLimited, resp.StatusCode)
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

// bufferBatch stores a failed batch in the local file buffer.
func (s *Sender) bufferBatch(batch models.MetricBatch) {
	if s.buf == nil {
		s.logger.Warn("No buffer available, dropping batch",
			zap.Int("metrics", len(batch.Metrics)))
		return
	}
	if err := s.buf.Store(batch); err != nil {
		s.logger.Error("Failed to buffer batch", zap.Error(err))
	}
}

// FlushBuffer attempts to send all previously buffered batches.
// Called on startup to drain any batches that were stored during prior outages.
func (s *Sender) FlushBuffer(ctx context.Context) {
	if s.buf == nil {
		return
	}

	batches, err := s.buf.RetrieveAll()
	if err != nil {
		s.logger.Error("Failed to retrieve buffered batches", zap.Error(err))
		return
	}

	if len(batches) == 0 {
		return
	}

	s.logger.Info("Flushing buffered batches", zap.Int("batches", len(batches)))

	for _, batch := range batches {
		s.Send(ctx, batch)
	}
}

// leveledLogger routes retryablehttp's logging through zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

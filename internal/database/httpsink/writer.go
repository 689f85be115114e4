package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"telemetry-ingest/internal/database"
	"telemetry-ingest/internal/models"
)

// Config holds the HTTP collector endpoint
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Writer POSTs point batches as JSON
type Writer struct {
	url    string
	token  string
	client *http.Client
}

// New creates a new HTTP sink
func New(config Config) (*Writer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("http sink url is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Writer{
		url:    config.URL,
		token:  config.Token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements database.Writer
func (w *Writer) Name() string { return "http" }

// Write implements database.Writer
func (w *Writer) Write(ctx context.Context, b models.Batch[models.Point]) (database.Ack, error) {
	if b.Len() == 0 {
		return database.Ack{}, nil
	}

	body, err := json.Marshal(models.PointBatch{BatchID: b.ID, Points: b.Items})
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", b.ID)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return database.Ack{}, fmt.Errorf("failed to post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return database.Ack{}, fmt.Errorf("collector returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var ack struct {
		Accepted *int `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack.Accepted == nil {
		return database.Ack{Accepted: b.Len()}, nil
	}
	return database.Ack{Accepted: *ack.Accepted}, nil
}

// Close releases idle connections
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

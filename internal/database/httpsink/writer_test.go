package httpsink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"telemetry-ingest/internal/models"
)

func TestWriterPostsBatch(t *testing.T) {
	var got models.PointBatch
	var auth, key string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted": 2}`))
	}))
	defer srv.Close()

	w, err := New(Config{URL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer w.Close()

	b := models.Batch[models.Point]{
		ID: "batch-1",
		Items: []models.Point{
			{Name: "SOC", Class: "BatteryStatus", Source: "BMS", Value: 87.5, Timestamp: 1700000000},
			{Name: "Temp", Class: "BatteryStatus", Source: "BMS", Value: 21, Timestamp: 1700000000},
		},
	}
	ack, err := w.Write(context.Background(), b)
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	if ack.Accepted != 2 {
		t.Fatalf("Accepted = %d, want 2", ack.Accepted)
	}
	if auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", auth)
	}
	if key != "batch-1" {
		t.Fatalf("Idempotency-Key = %q", key)
	}
	if got.BatchID != "batch-1" || len(got.Points) != 2 || got.Points[0].Value != 87.5 {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestWriterReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = w.Write(context.Background(), models.Batch[models.Point]{ID: "b", Items: []models.Point{{Name: "x"}}})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without url")
	}
}

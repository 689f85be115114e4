package api

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.einride.tech/can/pkg/descriptor"

	"telemetry-ingest/internal/codec"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/models"
	"telemetry-ingest/internal/signaltable"
)

type boundedQueue struct {
	capacity int
	points   []models.Point
}

func (q *boundedQueue) Submit(p models.Point) bool {
	if len(q.points) >= q.capacity {
		return false
	}
	q.points = append(q.points, p)
	return true
}

func uart24Hex(id uint32, payload ...byte) string {
	rec := make([]byte, 24)
	codec.PutFloat64BE(rec[0:8], 1700000000.0)
	rec[8] = '#'
	binary.BigEndian.PutUint32(rec[9:13], codec.ReverseBits32(id))
	copy(rec[13:21], payload)
	rec[21] = 8
	rec[22], rec[23] = 0x0D, 0x0A
	return hex.EncodeToString(rec)
}

func newTestServer(t *testing.T, queue *boundedQueue, checks map[string]HealthCheck) http.Handler {
	t.Helper()

	table := signaltable.NewStatic(&signaltable.Message{
		MessageName: "BatteryStatus",
		ID:          0x100,
		Size:        8,
		Transmitter: []string{"BMS"},
		Signals: []*descriptor.Signal{
			{Name: "Byte0", Start: 0, Length: 8, Scale: 1},
			{Name: "Byte1", Start: 8, Length: 8, Scale: 1},
		},
	})
	dec := decoder.New(decoder.Config{
		Classify:  decoder.ClassifyFixed,
		CANLayout: decoder.LayoutUART24,
		ReverseID: true,
	}, table, metrics.New(), nil)

	s, err := NewServer(ServerConfig{Port: 0, Token: "secret"}, dec, queue, nil, checks)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeParse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, &boundedQueue{capacity: 10}, nil)

	for _, token := range []string{"", "wrong"} {
		rec := do(t, h, http.MethodGet, "/api/v1/health", "", token)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status %d, want 401", token, rec.Code)
		}
	}
}

func TestParse(t *testing.T) {
	h := newTestServer(t, &boundedQueue{capacity: 10}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/parse", `{"message":"`+uart24Hex(0x100, 7, 9)+`"}`, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeParse(t, rec)
	if out["result"] != ResultOK || out["id"] != "0x100" || out["type"] != "CAN" {
		t.Fatalf("unexpected response %v", out)
	}
	ms, _ := out["measurements"].([]any)
	if len(ms) != 2 {
		t.Fatalf("got %d measurements, want 2", len(ms))
	}
	first := ms[0].(map[string]any)
	if first["name"] != "Byte0" || first["value"] != 7.0 || first["source"] != "BMS" {
		t.Fatalf("unexpected measurement %v", first)
	}
}

func TestParseFailures(t *testing.T) {
	h := newTestServer(t, &boundedQueue{capacity: 10}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/parse", `{"message":"`+uart24Hex(0x555)+`"}`, "secret")
	out := decodeParse(t, rec)
	if out["result"] != ResultParseFail || out["id"] != "0x555" {
		t.Fatalf("unexpected response %v", out)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/parse", `{"message":"zz"}`, "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/parse", `not json`, "secret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestParseWrite(t *testing.T) {
	queue := &boundedQueue{capacity: 10}
	h := newTestServer(t, queue, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/parse/write", `{"message":"`+uart24Hex(0x100, 1, 2)+`"}`, "secret")
	if out := decodeParse(t, rec); out["result"] != ResultOK {
		t.Fatalf("unexpected response %v", out)
	}
	if len(queue.points) != 2 || queue.points[1].Value != 2 {
		t.Fatalf("queued %+v", queue.points)
	}

	full := &boundedQueue{capacity: 1}
	h = newTestServer(t, full, nil)
	rec = do(t, h, http.MethodPost, "/api/v1/parse/write", `{"message":"`+uart24Hex(0x100, 1, 2)+`"}`, "secret")
	if out := decodeParse(t, rec); out["result"] != ResultWriteFail {
		t.Fatalf("unexpected response %v", out)
	}
}

func TestPoints(t *testing.T) {
	queue := &boundedQueue{capacity: 1}
	h := newTestServer(t, queue, nil)

	body := `{"batch_id":"b-1","points":[{"name":"SOC","class":"BatteryStatus","source":"BMS","value":87.5,"timestamp":1700000000},{"name":"Temp","value":20}]}`
	rec := do(t, h, http.MethodPost, "/api/v1/points", body, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeParse(t, rec)
	if out["accepted"] != 1.0 || out["batch_id"] != "b-1" {
		t.Fatalf("unexpected response %v", out)
	}
	if queue.points[0].Name != "SOC" || queue.points[0].Value != 87.5 {
		t.Fatalf("queued %+v", queue.points)
	}
}

func TestHealth(t *testing.T) {
	checks := map[string]HealthCheck{
		"influxdb":   func(context.Context) error { return nil },
		"clickhouse": func(context.Context) error { return errors.New("connection refused") },
	}
	h := newTestServer(t, &boundedQueue{}, checks)

	out := decodeParse(t, do(t, h, http.MethodGet, "/api/v1/health", "", "secret"))
	if out["status"] != "degraded" {
		t.Fatalf("status = %v", out["status"])
	}
	services := out["services"].(map[string]any)
	if services["influxdb"] != "UP" || services["clickhouse"] != "DOWN" {
		t.Fatalf("services = %v", services)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, &boundedQueue{}, nil)

	rec := do(t, h, http.MethodOptions, "/api/v1/parse", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

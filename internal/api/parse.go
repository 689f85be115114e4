package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"telemetry-ingest/internal/batch"
	"telemetry-ingest/internal/decoder"
	"telemetry-ingest/internal/models"
)

// Results reported by the parse endpoints
const (
	ResultOK         = "OK"
	ResultParseFail  = "PARSE_FAIL"
	ResultWriteFail  = "INFLUX_WRITE_FAIL"
	maxParseBodySize = 64 << 10
)

type parseRequest struct {
	Message string `json:"message"`
}

type parseResponse struct {
	Result       string               `json:"result"`
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Message      models.Frame         `json:"message,omitempty"`
	Measurements []models.Measurement `json:"measurements"`
	Error        string               `json:"error,omitempty"`
}

// handleParse decodes one hex encoded record and returns the frame
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.parse(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// handleParseWrite decodes one record and queues its points for storage
func (s *Server) handleParseWrite(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.parse(w, r)
	if !ok {
		return
	}
	if resp.Result != ResultOK {
		respondWithJSON(w, http.StatusOK, resp)
		return
	}

	for _, m := range resp.Measurements {
		p, ok := batch.Coerce(m)
		if !ok {
			continue
		}
		if !s.points.Submit(p) {
			log.Printf("Warning: unable to queue %s measurement %q for storage", resp.Type, m.Name)
			resp.Result = ResultWriteFail
			resp.Error = "storage queue full"
			break
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// parse writes an error response and returns false when the request is malformed
func (s *Server) parse(w http.ResponseWriter, r *http.Request) (parseResponse, bool) {
	var req parseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParseBodySize)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return parseResponse{}, false
	}

	raw, err := hex.DecodeString(strings.TrimSpace(req.Message))
	if err != nil || len(raw) == 0 {
		respondWithError(w, http.StatusBadRequest, "message must be a non-empty hex string")
		return parseResponse{}, false
	}

	res := s.decoder.Decode(models.RawRecord{Bytes: raw})
	resp := parseResponse{
		Result:       ResultOK,
		ID:           frameID(res),
		Type:         res.Kind.String(),
		Message:      res.Frame,
		Measurements: res.Measurements,
	}
	if resp.Measurements == nil {
		resp.Measurements = []models.Measurement{}
	}

	if res.Outcome != decoder.OutcomeDecoded {
		resp.Result = ResultParseFail
		resp.Error = res.Outcome.String()
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		log.Printf("Warning: unable to extract measurements for %s message with id=%s: %s", resp.Type, resp.ID, resp.Error)
		return resp, true
	}

	log.Printf("Parsed %s message with id=%s", resp.Type, resp.ID)
	return resp, true
}

// frameID names the record the way operators refer to it
func frameID(res decoder.Result) string {
	switch f := res.Frame.(type) {
	case *models.CanFrame:
		return fmt.Sprintf("0x%X", f.Frame.ID)
	case *models.AtCommandReply:
		return f.Command
	case nil:
		return models.UnknownSource
	}
	return res.Kind.String()
}

// handlePoints accepts point batches from the HTTP sink of a remote link
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	var pb models.PointBatch
	if err := json.NewDecoder(r.Body).Decode(&pb); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	accepted := 0
	for _, p := range pb.Points {
		if s.points.Submit(p) {
			accepted++
		}
	}
	if accepted < len(pb.Points) {
		log.Printf("Warning: batch %s: queued %d of %d points", pb.BatchID, accepted, len(pb.Points))
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"batch_id": pb.BatchID,
		"accepted": accepted,
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/coach"
	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// todayHandler answers one coaching turn.
func (s *Server) todayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "use POST")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, coach.MaxBodyBytes)
	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Server.todayHandler: invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid turn request: "+err.Error())
		return
	}

	device := deviceID(r)
	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	// The ledger is read and written under the device lock so two turns racing on
	// the same last_turn_id cannot both extend the chain.
	unlock := s.chains.lock(device)
	defer unlock()

	if req.LastTurnID != nil {
		issued, err := s.store.LastTurnID(ctx, device)
		if err != nil {
			slog.Error("Server.todayHandler: reading turn ledger failed", "error", err, "device_id", device)
			writeError(w, http.StatusInternalServerError, codeInternal, "turn ledger unavailable")
			return
		}
		if issued != "" && issued != *req.LastTurnID {
			slog.Warn("Server.todayHandler: turn chain mismatch", "device_id", device, "got", *req.LastTurnID, "want", issued)
			writeError(w, http.StatusConflict, codeTurnMismatch, "last_turn_id does not match the last issued turn")
			return
		}
	}

	resp, err := s.generator.Generate(ctx, req)
	if err != nil {
		slog.Error("Server.todayHandler: generating turn failed", "error", err, "device_id", device)
		writeError(w, http.StatusInternalServerError, codeInternal, "could not generate turn")
		return
	}

	if s.phraser != nil {
		text, err := s.phraser.Rephrase(ctx, resp.CoachMessage, resp.NextIntent, req.UserState)
		switch {
		case genai.IsQuotaError(err):
			writeError(w, http.StatusPaymentRequired, codeInsufficientQuota, "language model billing exhausted")
			return
		case err != nil:
			slog.Warn("Server.todayHandler: rephrasing failed, keeping scripted text", "error", err)
		default:
			resp.CoachMessage = text
			if resp.Debug != nil {
				resp.Debug.Info += "+genai"
			}
		}
	}

	if err := s.store.SaveTurnID(ctx, device, resp.TurnID); err != nil {
		slog.Error("Server.todayHandler: saving turn id failed", "error", err, "device_id", device)
		writeError(w, http.StatusInternalServerError, codeInternal, "turn ledger unavailable")
		return
	}

	replyTo := ""
	if req.UserReply != nil {
		replyTo = req.UserReply.WidgetID
	}
	slog.Info("Server.todayHandler: turn issued", "device_id", device, "turn_id", resp.TurnID, "intent", resp.NextIntent, "reply_to", replyTo)
	writeJSONResponse(w, http.StatusOK, resp)
}

// healthHandler reports liveness and whether the ledger is reachable.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"genai":     s.phraser != nil,
	}
	if _, err := s.store.LastTurnID(ctx, anonymousDevice); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Health check: turn ledger unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "turn ledger unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

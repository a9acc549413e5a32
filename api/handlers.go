package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// processRequest is the body of processConversation.
type processRequest struct {
	ClientKey string `json:"client_key"`
	Message   string `json:"message"`
}

// initRequest is the body of initConversation.
type initRequest struct {
	ClientKey string `json:"client_key"`
	Topic     string `json:"topic"`
}

// resetRequest is the body of resetConversation.
type resetRequest struct {
	ClientKey string `json:"client_key"`
}

// profileResponse is the getProfile payload.
type profileResponse struct {
	ClientKey    string `json:"client_key"`
	Profile      string `json:"profile"`
	MessageCount int    `json:"message_count"`
	Status       string `json:"status"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeSuccess writes the {"success": ...} envelope the upstream expects.
func writeSuccess(w http.ResponseWriter, ok bool, errMsg string) {
	body := map[string]any{"success": ok}
	if errMsg != "" {
		body["error"] = errMsg
	}
	writeJSON(w, http.StatusOK, body)
}

// validKey decodes/normalizes the client key, writing the failure envelope
// itself when the key is unusable.
func (s *Server) validKey(w http.ResponseWriter, raw string) (string, bool) {
	key := NormalizeKey(raw)
	if !ValidateKey(key) {
		s.logger.Warn("api.invalid_key", "raw", raw)
		writeSuccess(w, false, "invalid client key")
		return "", false
	}
	return key, true
}

// handleProcessConversation triggers one executor run in the background and
// acknowledges immediately.
func (s *Server) handleProcessConversation(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSuccess(w, false, "invalid request body")
		return
	}
	key, ok := s.validKey(w, req.ClientKey)
	if !ok {
		return
	}

	s.dispatch("processConversation", key, func(ctx context.Context) {
		session, err := s.registry.GetOrCreate(s.opts.AgentType)
		if err != nil {
			s.logger.Error("api.process.agent_unavailable", "key", key, "error", err.Error())
			return
		}
		reply, err := session.Run(ctx, key, req.Message)
		if err != nil {
			s.logger.Error("api.process.run_failed", "key", key, "error", err.Error())
		}
		s.logger.Info("api.process.done", "key", key, "status", string(reply.Status))
		s.send(ctx, key, reply.Text)
	})
	writeSuccess(w, true, "")
}

// handleInitConversation clears any prior history and runs a greeting turn
// in the background.
func (s *Server) handleInitConversation(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSuccess(w, false, "invalid request body")
		return
	}
	key, ok := s.validKey(w, req.ClientKey)
	if !ok {
		return
	}

	s.dispatch("initConversation", key, func(ctx context.Context) {
		session, err := s.registry.GetOrCreate(s.opts.AgentType)
		if err != nil {
			s.logger.Error("api.init.agent_unavailable", "key", key, "error", err.Error())
			return
		}
		if err := session.Clear(ctx, key); err != nil {
			s.logger.Warn("api.init.clear_failed", "key", key, "error", err.Error())
		}
		greeting := "Compose a short, friendly greeting for the client and offer help."
		if req.Topic != "" {
			greeting = fmt.Sprintf(
				"Compose a short, friendly greeting for the client about %q, then offer help with their request.",
				req.Topic,
			)
		}
		reply, err := session.Run(ctx, key, greeting)
		if err != nil {
			s.logger.Error("api.init.run_failed", "key", key, "error", err.Error())
		}
		s.send(ctx, key, reply.Text)
	})
	writeSuccess(w, true, "")
}

// handleGetProfile reads the client profile through the profile tool,
// bypassing the reasoning loop, and enriches it with the stored message
// count.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	key, ok := s.validKey(w, r.URL.Query().Get("client_key"))
	if !ok {
		return
	}
	session, err := s.registry.GetOrCreate(s.opts.AgentType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	profile := "Client profile not found."
	args, _ := json.Marshal(map[string]string{"phone": key})
	inv := session.Tools().Invoke(r.Context(), s.opts.ProfileTool, args)
	if inv.Err == nil {
		profile = inv.ResultText()
	}

	count := 0
	if turns, err := session.Store().Read(r.Context(), key, 0); err == nil {
		count = len(turns)
	}

	status := "new"
	if count > 0 {
		status = "active"
	}
	writeJSON(w, http.StatusOK, profileResponse{
		ClientKey:    key,
		Profile:      profile,
		MessageCount: count,
		Status:       status,
	})
}

// handleResetConversation wipes the conversation history for the key.
func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSuccess(w, false, "invalid request body")
		return
	}
	key, ok := s.validKey(w, req.ClientKey)
	if !ok {
		return
	}
	session, err := s.registry.GetOrCreate(s.opts.AgentType)
	if err != nil {
		writeSuccess(w, false, err.Error())
		return
	}
	if err := session.Clear(r.Context(), key); err != nil {
		s.logger.Error("api.reset.failed", "key", key, "error", err.Error())
		writeSuccess(w, false, "reset failed")
		return
	}
	writeSuccess(w, true, "")
}

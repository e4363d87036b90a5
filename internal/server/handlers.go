package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// apiResponse is the envelope every JSON endpoint uses.
type apiResponse struct {
	Success   bool               `json:"success"`
	Data      interface{}        `json:"data,omitempty"`
	Error     *hub.ErrorResponse `json:"error,omitempty"`
	Timestamp string             `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := hub.FormatErrorResponse(err)
	writeJSON(w, status, apiResponse{Success: false, Error: &resp})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.hub.GetServiceStatus()
	code := http.StatusOK
	if status.Status == "initializing" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, apiResponse{Success: code == http.StatusOK, Data: status})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.hub.GetServiceDiagnostics())
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.hub.GetAllGroups())
}

func (s *Server) handleGroupInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.hub.GetGroupInfo(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeSuccess(w, info)
}

func (s *Server) handleGroupTools(w http.ResponseWriter, r *http.Request) {
	entries, err := s.hub.ListTools(r.PathValue("group"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeSuccess(w, entries)
}

func (s *Server) handleDefaultTools(w http.ResponseWriter, r *http.Request) {
	entries, err := s.hub.ListTools("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, entries)
}

// executeRequest accepts both body field names used by clients.
type executeRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
	Args      map[string]interface{} `json:"args"`
}

func (s *Server) executeTool(w http.ResponseWriter, r *http.Request, groupID string) {
	toolName := r.PathValue("tool")

	var req executeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	args := req.Arguments
	if args == nil {
		args = req.Args
	}

	result := s.hub.CallTool(r.Context(), toolName, args, groupID)
	writeSuccess(w, result)
}

func (s *Server) handleExecuteInGroup(w http.ResponseWriter, r *http.Request) {
	s.executeTool(w, r, r.PathValue("group"))
}

func (s *Server) handleExecuteDefault(w http.ResponseWriter, r *http.Request) {
	s.executeTool(w, r, "")
}

func (s *Server) handleAPIToolsHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.hub.GetAPIToolsHealth())
}

func (s *Server) handleAPIToolsReload(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.ReloadAPIToolConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, s.hub.GetAPIToolsHealth())
}

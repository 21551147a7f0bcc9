package server

import (
	"encoding/json"
	"net/http"

	"github.com/opencode-ai/sharesync/internal/coordinator"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// shareCreate handles POST /share_create.
func (s *Server) shareCreate(w http.ResponseWriter, r *http.Request) {
	var req types.ShareCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID is required")
		return
	}

	session := s.registry.Get(coordinator.ShareNameFor(req.SessionID))
	secret, url, err := session.Share(r.Context(), req.SessionID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ShareCreateResponse{Secret: secret, URL: url})
}

// shareSync handles POST /share_sync.
func (s *Server) shareSync(w http.ResponseWriter, r *http.Request) {
	var req types.ShareSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID is required")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "key is required")
		return
	}

	session := s.registry.Get(coordinator.ShareNameFor(req.SessionID))
	if err := session.Publish(r.Context(), req.Secret, req.Key, req.Content); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// shareDelete handles POST /share_delete.
func (s *Server) shareDelete(w http.ResponseWriter, r *http.Request) {
	var req types.ShareDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID is required")
		return
	}

	session := s.registry.Get(coordinator.ShareNameFor(req.SessionID))
	if err := session.Clear(r.Context(), req.Secret); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// shareData handles GET /share_data: the public read model, no secret
// required.
func (s *Server) shareData(w http.ResponseWriter, r *http.Request) {
	shareName := r.URL.Query().Get("id")
	if shareName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "id is required")
		return
	}

	// The existence check keeps unknown names from spawning actors.
	exists, err := s.registry.Exists(shareName)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "share not found")
		return
	}

	data, err := s.registry.Get(shareName).Dump(r.Context())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

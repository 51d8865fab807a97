package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/conneroisu/livedoc/internal/content"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/presence"
)

const maxBodyBytes = 4 << 20

type pathRequest struct {
	Path string `json:"path"`
}

type updateRequest struct {
	Path string  `json:"path"`
	Raw  *string `json:"raw"`
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// DocumentResponse is the JSON form of an open document plus its room.
type DocumentResponse struct {
	*content.Document
	Room  bool `json:"room"`
	Peers int  `json:"peers"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: errors.Code(err), Message: err.Error()}

	if le, ok := errors.AsLivedoc(err); ok {
		body.Message = le.Message
		body.Path = le.Path
		body.Context = errors.GetErrorContext(le)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "route", r.URL.Path)
	} else {
		s.logger.Debug(r.Context(), "Request rejected", "route", r.URL.Path, "code", body.Code)
	}
	s.writeJSON(w, r, status, map[string]errorBody{"error": body})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeMalformedFrame, "request body is not valid JSON"))
		return false
	}
	return true
}

func (s *Server) decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return "", false
	}
	if req.Path == "" {
		s.writeError(w, r, errors.ErrMissingField("path"))
		return "", false
	}
	return req.Path, true
}

func (s *Server) documentResponse(doc *content.Document) DocumentResponse {
	resp := DocumentResponse{Document: doc}
	if rm, ok := s.rooms.Get(doc.Path); ok {
		resp.Room = true
		resp.Peers = rm.Connections()
	}
	return resp
}

// handleOpen opens a document and makes sure its room exists.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	doc, err := s.store.Open(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, created := s.rooms.Create(doc); created {
		s.logger.Debug(r.Context(), "Opened room for document", "path", doc.Path)
	}
	s.writeJSON(w, r, http.StatusOK, s.documentResponse(doc))
}

// handleUpdate replaces a document's text from outside the room channel.
// Peers in the room receive the change as a reset.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, r, errors.ErrMissingField("path"))
		return
	}
	if req.Raw == nil {
		s.writeError(w, r, errors.ErrMissingField("raw"))
		return
	}

	doc, err := s.store.Update(r.Context(), req.Path, *req.Raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.rooms.Reset(doc.Path)
	if current, err := s.store.Get(doc.Path); err == nil {
		doc = current
	}
	s.writeJSON(w, r, http.StatusOK, s.documentResponse(doc))
}

// handleRender renders a document now and pushes the result to its room.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	doc, err := s.rooms.Render(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.documentResponse(doc))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	if err := s.store.Save(r.Context(), path); err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.store.Get(path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.documentResponse(doc))
}

// handleClose flushes the room, then saves and evicts the document. While
// peers are still connected the document stays open for their edits: the
// room refuses new joins and closes the document when its last peer leaves,
// and the request is answered with 202.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	abs, err := s.store.Resolve(path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.rooms.Close(abs) {
		peers := 0
		if rm, ok := s.rooms.Get(abs); ok {
			peers = rm.Connections()
		}
		s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{"path": abs, "closed": false, "peers": peers})
		return
	}
	if err := s.store.Close(r.Context(), abs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"path": abs, "closed": true})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"documents": s.store.List(),
		"rooms":     s.rooms.Paths(),
	})
}

func (s *Server) handlePresenceList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"users": s.presence.GetUsers()})
}

// handlePresenceAction applies one presence action posted as JSON.
func (s *Server) handlePresenceAction(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeMalformedFrame, "failed to read request body"))
		return
	}
	action, err := presence.ParseAction(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.presence.HandleAction(r.Context(), action); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

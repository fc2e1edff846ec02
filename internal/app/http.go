// Package app is the thin JSON boundary over the dashboard service. Known
// domain errors become {success:false, message} envelopes with the specific
// reason; anything unexpected is logged server-side and answered with a
// generic action-named fallback.
package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"gridboard/api/internal/dashboard"
)

// IdentityFunc resolves the caller's owner string. Authentication itself is
// an external concern; the serving layer in front of this process is trusted
// to have established identity.
type IdentityFunc func(r *http.Request) string

// HeaderIdentity trusts the X-Remote-User header set by the fronting proxy.
func HeaderIdentity(r *http.Request) string {
	if owner := r.Header.Get("X-Remote-User"); owner != "" {
		return owner
	}
	return "anonymous"
}

type HTTPServer struct {
	service    *dashboard.Service
	identity   IdentityFunc
	corsOrigin string
}

func NewHTTPServer(service *dashboard.Service, identity IdentityFunc, corsOrigin string) *HTTPServer {
	if identity == nil {
		identity = HeaderIdentity
	}
	return &HTTPServer{service: service, identity: identity, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Remote-User")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/dashboards":
		s.handleList(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/dashboards/get":
		s.handleGet(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/dashboards/add":
		s.handleAdd(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/dashboards/update":
		s.handleUpdate(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/dashboards/delete":
		s.handleDelete(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/dashboards/copy":
		s.handleCopy(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
	}
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	owner := s.identity(r)
	dashboardView := r.URL.Query().Get("view") == "true"

	lists, err := s.service.List(r.Context(), owner, dashboardView)
	if err != nil {
		s.fail(w, "list", err)
		return
	}

	// Listing is the natural moment to garbage-collect the owner's orphaned
	// JSON assets; a sweep failure never blocks the response.
	if err := s.service.CleanupJSONAssets(r.Context(), owner); err != nil {
		log.Printf("cleanup json assets for %s: %v", owner, err)
	}

	writeJSON(w, http.StatusOK, lists)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := intQuery(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid id"})
		return
	}
	view, err := s.service.Get(r.Context(), id, true)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dashboard": view})
}

func (s *HTTPServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	var input dashboard.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
		return
	}
	owner := s.identity(r)
	log.Printf("creating a dashboard named %s for %s", input.Name, owner)

	view, err := s.service.Create(r.Context(), owner, input)
	if err != nil {
		s.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "new_dashboard": view})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID int `json:"id"`
		dashboard.UpdateInput
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
		return
	}
	view, err := s.service.Update(r.Context(), s.identity(r), input.ID, input.UpdateInput)
	if err != nil {
		s.fail(w, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated_dashboard": view})
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
		return
	}
	if err := s.service.Delete(r.Context(), s.identity(r), input.ID); err != nil {
		s.fail(w, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleCopy(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID      int    `json:"id"`
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
		return
	}
	view, err := s.service.Copy(r.Context(), s.identity(r), input.ID, input.NewName)
	if err != nil {
		s.fail(w, "copy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "new_dashboard": view})
}

// fail renders an error. Domain errors carry their own message; everything
// else is logged in full and hidden behind the generic fallback.
func (s *HTTPServer) fail(w http.ResponseWriter, verb string, err error) {
	if domainErr := asDomainError(err); domainErr != nil {
		writeJSON(w, domainErr.Status, map[string]any{"success": false, "message": domainErr.Message})
		return
	}
	log.Printf("failed to %s dashboard: %v", verb, err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Failed to " + verb + " the dashboard. Check server for logs.",
	})
}

func intQuery(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	var id int
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"participation/internal/core"
	"participation/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.startedAt).String(),
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.ready == nil:
		checks["store"] = "not_checked"
	default:
		if err := s.ready(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	checks["sessions"] = map[string]interface{}{
		"active": s.sessions.size(),
		"status": "ok",
	}
	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": s.now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.templates == nil {
		s.logger.ErrorContext(ctx, "Templates not loaded",
			log.FieldPath, r.URL.Path,
			log.FieldComponent, log.ComponentTemplate)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	ref, err := s.svc.Reference(ctx)
	view := newIndexView(s.now(), ref)
	if err != nil {
		_, msg := statusFor(err)
		view.ReferenceError = msg
		log.FromContext(ctx).ErrorContext(ctx, "Reference data unavailable",
			log.FieldOperation, log.OpReference,
			log.FieldError, err)
	} else if _, entry, lookupErr := s.sessions.lookup(r); lookupErr == nil {
		entry.mu.Lock()
		view.Editor = newEditorView(entry.session, entry.warnings, ref.Projects)
		entry.mu.Unlock()
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", view); err != nil {
		s.logger.ErrorContext(ctx, "Index template execution failed",
			log.FieldError, err,
			log.FieldOperation, log.OpRender)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleOpenSession starts an editor for the selected employee-month,
// replacing any session the client already had.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body.").Write(w)
		return
	}

	key, err := ParseSelection(p, s.now())
	if err != nil {
		s.writeError(w, r, log.OpOpen, err)
		return
	}

	ref, err := s.svc.Reference(ctx)
	if err != nil {
		s.writeError(w, r, log.OpOpen, err)
		return
	}
	if _, ok := ref.Employee(key.EmployeeID); !ok {
		s.writeError(w, r, log.OpOpen, fmt.Errorf("%w: employee %q is not active", core.ErrInvalidSelection, key.EmployeeID))
		return
	}

	session, warnings, err := s.svc.Open(ctx, key)
	if err != nil {
		s.writeError(w, r, log.OpOpen, err)
		return
	}

	if oldID, _, err := s.sessions.lookup(r); err == nil {
		s.sessions.discard(oldID)
	}
	id := s.sessions.create(session, warnings)
	setSessionCookie(w, r, id, s.sessionTTL)

	log.FromContext(ctx).InfoContext(ctx, "Editor session started",
		log.FieldSessionID, id,
		log.FieldEmployeeID, key.EmployeeID,
		log.FieldYear, key.Year,
		log.FieldMonth, key.Month,
		log.FieldRecords, session.Len())

	resp := NewHTMXResponse().TriggerSessionOpened(key)
	if len(warnings) > 0 {
		resp.TriggerNotification(NotificationWarning,
			fmt.Sprintf("%d saved row(s) need attention", len(warnings)), 5000)
	}
	s.renderEditor(w, r, newEditorView(session, warnings, ref.Projects), resp)
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	_, entry, err := s.sessions.lookup(r)
	if err != nil {
		s.writeError(w, r, log.OpRender, err)
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s.respondEditor(w, r, entry, NewHTMXResponse())
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	_, entry, err := s.sessions.lookup(r)
	if err != nil {
		s.writeError(w, r, log.OpAddRow, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body.").Write(w)
		return
	}
	in, err := ParseRowInput(p)
	if err != nil {
		s.writeError(w, r, log.OpAddRow, err)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, err := s.svc.AddRow(r.Context(), entry.session, in.ProjectID, in.RoleCode, in.Rate); err != nil {
		s.writeError(w, r, log.OpAddRow, err)
		return
	}
	s.respondEditor(w, r, entry, NewHTMXResponse().TriggerRowFormReset())
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	_, entry, err := s.sessions.lookup(r)
	if err != nil {
		s.writeError(w, r, log.OpSetRate, err)
		return
	}
	index, err := parseRowIndex(r)
	if err != nil {
		s.writeError(w, r, log.OpSetRate, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body.").Write(w)
		return
	}
	rate, err := parseRate(p.Get("rate"))
	if err != nil {
		s.writeError(w, r, log.OpSetRate, err)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := s.svc.SetRate(r.Context(), entry.session, index, rate); err != nil {
		s.writeError(w, r, log.OpSetRate, err)
		return
	}
	s.respondEditor(w, r, entry, NewHTMXResponse())
}

func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	_, entry, err := s.sessions.lookup(r)
	if err != nil {
		s.writeError(w, r, log.OpRemoveRow, err)
		return
	}
	index, err := parseRowIndex(r)
	if err != nil {
		s.writeError(w, r, log.OpRemoveRow, err)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, err := s.svc.RemoveRow(r.Context(), entry.session, index); err != nil {
		s.writeError(w, r, log.OpRemoveRow, err)
		return
	}
	s.respondEditor(w, r, entry, NewHTMXResponse())
}

// handleSave persists the session. On failure the session stays open so the
// user can fix the rows or retry; on success it is discarded.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id, entry, err := s.sessions.lookup(r)
	if err != nil {
		s.writeError(w, r, log.OpSave, err)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	key := entry.session.Key()
	total := entry.session.TotalRate()
	if err := s.svc.Save(r.Context(), entry.session); err != nil {
		s.writeError(w, r, log.OpSave, err)
		return
	}

	s.sessions.discard(id)
	clearSessionCookie(w, r)

	data := struct {
		Key   core.MonthKey
		Total int
	}{key, total}
	resp := NewHTMXResponse().
		TriggerMonthSaved(key).
		TriggerSessionClosed().
		TriggerSuccessNotification(fmt.Sprintf("Saved %s %04d-%02d", key.EmployeeID, key.Year, key.Month))
	s.renderPartial(w, r, "saved", data, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if id, _, err := s.sessions.lookup(r); err == nil {
		s.sessions.discard(id)
	}
	clearSessionCookie(w, r)
	s.renderPartial(w, r, "placeholder", nil, NewHTMXResponse().TriggerSessionClosed())
}

// respondEditor renders the current state of entry; callers hold entry.mu.
func (s *Server) respondEditor(w http.ResponseWriter, r *http.Request, entry *sessionEntry, resp *HTMXResponseBuilder) {
	ref, err := s.svc.Reference(r.Context())
	if err != nil {
		s.writeError(w, r, log.OpReference, err)
		return
	}
	s.renderEditor(w, r, newEditorView(entry.session, entry.warnings, ref.Projects), resp)
}

func (s *Server) renderEditor(w http.ResponseWriter, r *http.Request, view *editorView, resp *HTMXResponseBuilder) {
	s.renderPartial(w, r, "editor", view, resp)
}

func (s *Server) renderPartial(w http.ResponseWriter, r *http.Request, name string, data any, resp *HTMXResponseBuilder) {
	if s.templates == nil {
		InternalServerError("Templates not loaded.").Write(w)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			log.FieldOperation, log.OpRender,
			"template", name)
		InternalServerError("Failed to render the editor.").Write(w)
		return
	}
	resp.BodyHTML(buf.String()).Write(w)
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/thoughtloop/internal/detox"
	"github.com/lazypower/thoughtloop/internal/engine"
)

// detached keeps a cycle running when the client goes away; a half-finished
// cycle would leave nothing to show for the backend call.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decode(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Step(detached(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Message == "" {
		badRequest(w, "message required")
		return
	}
	reply, err := s.engine.Speak(detached(r), req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preamble string `json:"preamble"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := s.engine.Reset(req.Preamble); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req engine.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := s.engine.Apply(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	after := 0
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "after must be a non-negative integer")
			return
		}
		after = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.engine.Feed(after)})
}

func (s *Server) handleThoughts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"thoughts": s.engine.Thoughts()})
}

func (s *Server) handleContamination(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Report()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": engine.StatusLine(report),
		"report": report,
	})
}

func (s *Server) handleDetox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method    string  `json:"method"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	kind, err := detox.Parse(req.Method)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.engine.Detoxify(detached(r), kind, req.Threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"lines":  res.Lines,
		"status": s.engine.ContaminationStatus(),
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.engine.ListSnapshots()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	name, err := s.engine.SaveSnapshot(req.Tag)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, preview, err := s.engine.PreviewSnapshot(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preview":  preview,
		"snapshot": snap,
	})
}

func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.LoadSnapshot(chi.URLParam(r, "name")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.engine.DeleteSnapshot(name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"protocols": s.engine.Protocols(),
		"active":    s.engine.Status().Protocol,
	})
}

func (s *Server) handleSetProtocol(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := s.engine.SetProtocol(req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

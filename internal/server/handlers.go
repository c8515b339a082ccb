package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ChuLiYu/jobwatch/internal/compiler"
	"github.com/ChuLiYu/jobwatch/internal/filestore"
	"github.com/ChuLiYu/jobwatch/internal/jobmanager"
	"github.com/ChuLiYu/jobwatch/internal/worker"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// maxBodyBytes bounds request bodies (source files are small)
const maxBodyBytes = 4 << 20

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ============================================================================
// App State
// ============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.Ready() {
		http.Redirect(w, r, IDEPath, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": "loading", "status": s.StartupStatus()})
}

func (s *Server) handleIDE(w http.ResponseWriter, r *http.Request) {
	if !s.Ready() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.mu.RLock()
	file := s.file
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"state": "ide", "file": file})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.StartupStatus()
	resp := types.StatusResponse{Status: "success", Data: &status}
	if status.Complete {
		resp.Redirect = IDEPath
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// Compile + Observe
// ============================================================================

// handleCompile registers a new current job and queues it. The response
// only acknowledges the submission; output arrives via the poll endpoints.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req types.CompileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: types.SubmitError, Message: "invalid request: " + err.Error()})
		return
	}

	job := s.jobs.Begin(req.Content)
	s.record(job.ID)
	err := s.pool.Submit(worker.Task{
		JobID:   job.ID,
		Source:  req.Content,
		Timeout: s.cfg.CompileTimeout,
	})
	if err != nil {
		log.Error("Failed to queue compile", "job_id", job.ID, "error", err)
		s.jobs.AddLine(job.ID, compiler.PipelineFailedPrefix+err.Error(), types.SeverityError)
		if mErr := s.jobs.MarkRunning(job.ID); mErr == nil {
			s.jobs.MarkFailed(job.ID, err)
			s.record(job.ID)
		}
		writeJSON(w, http.StatusOK, types.SubmitAck{Status: types.SubmitError, JobID: job.ID, Message: err.Error()})
		return
	}

	log.Info("Compilation started", "job_id", job.ID, "bytes", len(req.Content))
	writeJSON(w, http.StatusOK, types.SubmitAck{Status: types.SubmitStarted, JobID: job.ID})
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Console())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Insights())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.lookupJob(r.PathValue("id"))
	if errors.Is(err, jobmanager.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ============================================================================
// Editor + Files
// ============================================================================

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := types.EditorContent{Content: s.content, File: s.file}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var req types.CompileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "invalid request: " + err.Error()})
		return
	}

	s.mu.Lock()
	s.content = req.Content
	file := s.file
	s.mu.Unlock()

	s.persistState(req.Content, file)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleSave stores content under filename, or under the current file when
// filename is empty.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req types.SaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.saveFailed(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	name := req.Filename
	if name == "" {
		s.mu.RLock()
		if s.file != nil {
			name = *s.file
		}
		s.mu.RUnlock()
	}
	if name == "" {
		s.saveFailed(w, http.StatusBadRequest, ErrNoFileSelected.Error())
		return
	}

	name, err := filestore.CleanName(name)
	if err != nil {
		s.saveFailed(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Save(r.Context(), name, req.Content); err != nil {
		log.Error("Save failed", "file", name, "error", err)
		s.saveFailed(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.content = req.Content
	s.file = types.StrPtr(name)
	s.mu.Unlock()
	s.persistState(req.Content, types.StrPtr(name))

	s.metrics.RecordSave(types.SaveSaved)
	log.Info("File saved", "file", name, "bytes", len(req.Content))
	writeJSON(w, http.StatusOK, types.SaveResponse{Status: types.SaveSaved})
}

func (s *Server) saveFailed(w http.ResponseWriter, code int, msg string) {
	s.metrics.RecordSave(types.SaveError)
	writeJSON(w, code, types.SaveResponse{Status: types.SaveError, Error: msg})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": names})
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/finextractor/internal/metrics"
	"github.com/local/finextractor/internal/queue"
	"github.com/local/finextractor/internal/statuscheck"
	"github.com/local/finextractor/internal/storage"
	"github.com/local/finextractor/internal/store"
)

const maxUploadBytes = 100 << 20

// Server is the HTTP intake surface: document submission, progress polling,
// result download, cancellation webhook, health and metrics.
type Server struct {
	queue   *queue.RedisQueue
	status  *store.RedisStatus
	result  storage.Store
	checker *statuscheck.Checker
	workDir string
}

func NewServer(q *queue.RedisQueue, status *store.RedisStatus, result storage.Store, checker *statuscheck.Checker, workDir string) *Server {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Server{queue: q, status: status, result: result, checker: checker, workDir: workDir}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process_document", s.handleProcessDocument)
	mux.HandleFunc("GET /progress/{job}", s.handleProgress)
	mux.HandleFunc("GET /download_result/{job}", s.handleDownloadResult)
	mux.HandleFunc("POST /webhook/cancel_job", s.handleCancelJob)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// handleProcessDocument accepts a multipart "file" upload or a JSON body
// {"file_path": ...} naming a host-local path or an s3://bucket/key object,
// then queues the job and returns its id immediately.
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	jobID := uuid.NewString()

	var filePath, fileID, callbackURL string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		path, id, err := s.saveUpload(r, jobID)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		filePath, fileID = path, id
		callbackURL = r.FormValue("callback_url")
	} else {
		var body struct {
			FilePath    string `json:"file_path"`
			FileID      string `json:"file_id"`
			CallbackURL string `json:"callback_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if body.FilePath == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("file_path is required"))
			return
		}
		filePath, fileID, callbackURL = body.FilePath, body.FileID, body.CallbackURL
	}

	job := queue.DocumentJob{
		JobID:       jobID,
		FilePath:    filePath,
		FileID:      fileID,
		CallbackURL: callbackURL,
		EnqueuedAt:  time.Now(),
	}
	ctx := r.Context()
	if err := s.queue.EnqueueDocument(ctx, job); err != nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("enqueue failed: %w", err))
		return
	}
	_ = s.status.Set(ctx, jobID, store.Status{Status: store.StateQueued, Message: "queued"})
	if fileID != "" {
		_ = s.status.SetFileJobMapping(ctx, fileID, jobID)
	}

	log.Info().Str("job_id", jobID).Str("file", filePath).Msg("document queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": store.StateQueued})
}

func (s *Server) saveUpload(r *http.Request, jobID string) (string, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", "", fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	dst := filepath.Join(s.workDir, jobID+".pdf")
	out, err := os.Create(dst)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(file, maxUploadBytes)); err != nil {
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	log.Debug().Str("job_id", jobID).Str("filename", header.Filename).Str("path", dst).Msg("upload saved")
	return dst, r.FormValue("file_id"), nil
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")
	st, found, err := s.status.Get(r.Context(), jobID)
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	if !found {
		writeErr(w, http.StatusNotFound, fmt.Errorf("unknown job %s", jobID))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job")
	name, contentType := "result.json", "application/json"
	if r.URL.Query().Get("format") == "csv" {
		name, contentType = "result.csv", "text/csv"
	}

	data, err := s.result.Load(r.Context(), jobID, name)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("result not available for job %s", jobID))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s", jobID, name))
	_, _ = w.Write(data)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JobID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("job_id is required"))
		return
	}
	if err := s.queue.CancelJob(r.Context(), body.JobID); err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	log.Info().Str("job_id", body.JobID).Msg("cancellation requested")
	writeJSON(w, http.StatusOK, map[string]string{"job_id": body.JobID, "status": "cancellation_requested"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.checker.Summary(r.Context())
	code := http.StatusOK
	if !summary.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, summary)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

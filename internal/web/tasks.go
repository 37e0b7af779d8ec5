package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/queue"
)

// FileInputAPI is one file attached to a typed task creation request,
// either inline base64 data or a URL this gateway should fetch.
type FileInputAPI struct {
	Data     string `json:"data"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// CreateTaskAPIRequest is the body of POST /api/v1/tasks.
type CreateTaskAPIRequest struct {
	Prompt   string         `json:"prompt"`
	Duration *int           `json:"duration"`
	Ratio    *string        `json:"ratio"`
	Model    *string        `json:"model"`
	Files    []FileInputAPI `json:"files"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, err := parseLimitOffset(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.queue.List(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAPITasks(tasks))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, toAPITask(task))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req CreateTaskAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	caller, _ := auth.FromContext(r.Context())
	if err := auth.CheckDailyQuota(s.store, caller); err != nil {
		var qe *auth.QuotaExceededError
		if errors.As(err, &qe) {
			writeQuotaExceeded(w, qe)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	duration := 5
	if req.Duration != nil {
		duration = *req.Duration
	}
	ratio := "16:9"
	if req.Ratio != nil && *req.Ratio != "" {
		ratio = *req.Ratio
	}
	model := ""
	if req.Model != nil {
		model = *req.Model
	}

	var body []byte
	var contentType string
	if len(req.Files) > 0 {
		var err error
		body, contentType, err = encodeMultipartFiles(req.Files)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not materialize files: "+err.Error())
			return
		}
	}

	task, err := s.queue.Enqueue(queue.EnqueueParams{
		Prompt:             req.Prompt,
		Duration:           duration,
		Ratio:              ratio,
		Model:              model,
		RequestBody:        body,
		RequestContentType: contentType,
		CredentialID:       caller.KeyID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = auth.RecordTaskCreated(s.store, caller)

	writeJSON(w, http.StatusAccepted, toAPITask(task))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.queue.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "task is not in a cancellable state")
		return
	}
	task, err := s.queue.Get(r.PathValue("id"))
	if err != nil || task == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
		return
	}
	writeJSON(w, http.StatusOK, toAPITask(task))
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Retry(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found or not eligible for retry")
		return
	}
	writeJSON(w, http.StatusAccepted, toAPITask(task))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// encodeMultipartFiles builds a multipart/form-data body from typed
// file inputs so worker.go's single material-extraction path (built
// around mime/multipart) can serve both raw-multipart task creation
// and this typed-JSON form uniformly.
func encodeMultipartFiles(files []FileInputAPI) ([]byte, string, error) {
	buf := &strings.Builder{}
	w := multipart.NewWriter(buf)
	for i, f := range files {
		data, err := resolveFileData(f.Data)
		if err != nil {
			return nil, "", fmt.Errorf("file %d (%s): %w", i, f.Filename, err)
		}
		filename := f.Filename
		if filename == "" {
			filename = fmt.Sprintf("file%d", i)
		}
		part, err := w.CreatePart(multipartFileHeader(filename, f.MimeType))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return []byte(buf.String()), w.FormDataContentType(), nil
}

func multipartFileHeader(filename, mimeType string) textproto.MIMEHeader {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {mimeType},
	}
}

func resolveFileData(data string) ([]byte, error) {
	if strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		if _, err := url.ParseRequestURI(data); err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		resp, err := http.Get(data)
		if err != nil {
			return nil, fmt.Errorf("fetch file URL: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch file URL: HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	if idx := strings.Index(data, ",base64,"); idx != -1 {
		data = data[idx+len(",base64,"):]
	} else if idx := strings.Index(data, ";base64,"); idx != -1 {
		data = data[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(data)
}

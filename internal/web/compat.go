package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/fran0220/jimeng-gateway/internal/auth"
	"github.com/fran0220/jimeng-gateway/internal/queue"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

// compatGenerateRequest is the JSON shape accepted by the
// jimeng-free-api-compatible /v1/videos/generations endpoint, in
// addition to a raw multipart/form-data body.
type compatGenerateRequest struct {
	Prompt   string  `json:"prompt"`
	Model    string  `json:"model"`
	Duration *int    `json:"duration"`
	Ratio    *string `json:"ratio"`
}

func (s *Server) handleCompatGenerate(w http.ResponseWriter, r *http.Request) {
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

	contentType := r.Header.Get("Content-Type")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var prompt, model, ratio string
	duration := 5

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var req compatGenerateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		prompt, model = req.Prompt, req.Model
		if req.Duration != nil {
			duration = *req.Duration
		}
		if req.Ratio != nil {
			ratio = *req.Ratio
		}
	} else {
		fields, err := parseMultipartFields(contentType, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
			return
		}
		prompt = fields["prompt"]
		model = fields["model"]
		ratio = fields["ratio"]
		if d := fields["duration"]; d != "" {
			if parsed, err := strconv.Atoi(d); err == nil {
				duration = parsed
			}
		}
	}
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if ratio == "" {
		ratio = "16:9"
	}

	task, err := s.queue.Enqueue(queue.EnqueueParams{
		Prompt:             prompt,
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

	writeJSON(w, http.StatusAccepted, map[string]any{
		"code":    0,
		"message": "task accepted",
		"data": []map[string]string{
			{"task_id": task.ID, "status": task.Status},
		},
		"task": map[string]string{
			"id":       task.ID,
			"status":   task.Status,
			"poll_url": fmt.Sprintf("/api/v1/tasks/%s", task.ID),
		},
	})
}

func (s *Server) handleCompatModels(w http.ResponseWriter, r *http.Request) {
	names := upstream.ModelNames()
	sort.Strings(names)
	data := make([]map[string]any, 0, len(names))
	for _, name := range names {
		data = append(data, map[string]any{
			"id":     name,
			"object": "model",
			"owned_by": "jimeng-gateway",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// parseMultipartFields extracts the non-file text fields of a
// multipart/form-data body already buffered into memory, mirroring
// the original's extract_multipart_fields but built on the stdlib
// reader rather than a manual scan (see internal/queue/worker.go for
// the same reasoning applied to file parts).
func parseMultipartFields(contentType string, body []byte) (map[string]string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart content type missing boundary")
	}

	fields := make(map[string]string)
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			continue
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		fields[part.FormName()] = string(data)
	}
	return fields, nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

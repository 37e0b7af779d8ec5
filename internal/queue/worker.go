package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"strings"
	"time"

	"github.com/fran0220/jimeng-gateway/internal/db"
	"github.com/fran0220/jimeng-gateway/internal/upstream"
)

const (
	pollFallbackIntervalSecs = 5
	pollFallbackMaxSecs      = 60
	requeueBackoff           = 10 * time.Second
	claimErrorBackoff        = 1 * time.Second
	idleTick                 = 5 * time.Second
)

// workerLoop dequeues the oldest queued task, picks a session, and runs
// it through the full submit/poll/download pipeline, looping until ctx
// is cancelled.
func (q *Queue) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-time.After(idleTick):
		}

		taskID, err := q.store.ClaimTask()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimErrorBackoff):
			}
			continue
		}
		if taskID == "" {
			continue
		}

		session, err := q.pool.Pick()
		if err != nil || session == nil {
			_ = q.store.RequeueTask(taskID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(requeueBackoff):
			}
			continue
		}

		_ = q.store.AssignSession(taskID, session.ID)
		q.incRunning(1)

		videoURL, execErr := q.executeTask(ctx, taskID, session.SessionID)

		q.incRunning(-1)

		if execErr == nil {
			_ = q.store.FinishTaskSucceeded(taskID, videoURL)
			_ = q.pool.Release(session.ID, true, "")
			continue
		}

		if q.isCancelled(taskID) {
			_ = q.pool.Release(session.ID, false, "cancelled by user")
			continue
		}

		errMsg := execErr.Error()
		errKind := classifyError(errMsg)
		_ = q.store.FinishTaskFailed(taskID, errMsg, errKind)
		_ = q.pool.Release(session.ID, false, errMsg)
		if errKind == "auth" {
			_ = q.pool.MarkUnhealthy(session.ID)
		}
	}
}

// executeTask runs one task through the full pipeline: resolve its
// stored request, upload any attached materials, submit the draft, and
// poll until a video URL or terminal failure arrives.
func (q *Queue) executeTask(ctx context.Context, taskID, sessionToken string) (string, error) {
	task, err := q.store.GetTask(taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("task %s vanished mid-pipeline", taskID)
	}

	isSeedance := upstream.IsSeedanceModel(task.Model)
	const resolution = "720p"
	res, err := upstream.ResolveVideoResolution(resolution, task.Ratio)
	if err != nil {
		return "", err
	}

	if err := q.store.UpdateTaskStatus(taskID, db.TaskSubmitting); err != nil {
		return "", err
	}

	var contentType string
	if task.RequestContentType != nil {
		contentType = *task.RequestContentType
	}
	materials := q.processMaterials(ctx, sessionToken, task.RequestBody, contentType)

	var result *upstream.SubmitResult
	if isSeedance {
		result, err = q.client.SubmitSeedanceVideo(ctx, sessionToken, task.Prompt, task.Model, res.Width, res.Height, task.Duration, materials)
	} else {
		var firstFrameURI string
		for _, m := range materials {
			if m.MaterialType == upstream.MaterialImage {
				firstFrameURI = m.URI
				break
			}
		}
		result, err = q.client.SubmitRegularVideo(ctx, sessionToken, task.Prompt, task.Model, res.Width, res.Height, task.Duration, resolution, firstFrameURI, "")
	}
	if err != nil {
		return "", err
	}

	if err := q.store.UpdateTaskSubmitted(taskID, result.HistoryRecordID); err != nil {
		return "", err
	}

	pollIntervalSecs := q.cfg.PollIntervalSecs
	if pollIntervalSecs <= 0 {
		pollIntervalSecs = pollFallbackIntervalSecs
	}
	maxPollSecs := q.cfg.MaxPollDurationSecs
	if maxPollSecs <= 0 {
		maxPollSecs = pollFallbackMaxSecs
	}
	deadline := time.Now().Add(time.Duration(maxPollSecs) * time.Second)
	interval := time.Duration(pollIntervalSecs) * time.Second

	for {
		if q.isCancelled(taskID) {
			return "", fmt.Errorf("task cancelled")
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("polling timed out after %ds", maxPollSecs)
		}

		poll, err := q.client.PollStatus(ctx, sessionToken, result.HistoryRecordID)
		if err != nil {
			return "", err
		}

		var position, total *int
		var eta *string
		if poll.QueuePosition != 0 {
			position = &poll.QueuePosition
		}
		if poll.QueueTotal != 0 {
			total = &poll.QueueTotal
		}
		if poll.QueueETA != "" {
			eta = &poll.QueueETA
		}
		_ = q.store.UpdateTaskProgress(taskID, position, total, eta)

		if poll.Status == upstream.StatusFailed {
			failCode := poll.FailCode
			if failCode == "" {
				failCode = "unknown"
			}
			return "", fmt.Errorf("upstream task failed with code %s: %s", failCode, poll.FailMsg)
		}

		if poll.VideoURL != "" {
			if err := q.store.UpdateTaskStatus(taskID, db.TaskDownloading); err != nil {
				return "", err
			}
			if poll.ItemID != "" {
				if hqURL, err := q.client.FetchHQVideoURL(ctx, sessionToken, poll.ItemID); err == nil && hqURL != "" {
					return hqURL, nil
				}
			}
			return poll.VideoURL, nil
		}

		if poll.Status != upstream.StatusPending {
			return "", fmt.Errorf("upstream returned status %d without video_url", poll.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (q *Queue) isCancelled(taskID string) bool {
	status, err := q.store.TaskStatus(taskID)
	if err != nil {
		return false
	}
	return status == db.TaskCancelled
}

// classifyError buckets an error message into a coarse kind used to
// decide whether the session that produced it should be demoted.
func classifyError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "authorization"), strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "login"), strings.Contains(lower, "token"):
		return "auth"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return "timeout"
	case strings.Contains(msg, "平台规则"), strings.Contains(msg, "内容违规"):
		return "platform_rule"
	case strings.Contains(lower, "network"), strings.Contains(lower, "econnrefused"):
		return "network"
	default:
		return "unknown"
	}
}

// processMaterials uploads any files attached to a task's original
// multipart request body. A body that cannot be parsed yields no
// materials; a file whose upload fails is logged and skipped, and the
// submission proceeds with the files that did upload.
func (q *Queue) processMaterials(ctx context.Context, sessionToken string, requestBody []byte, contentType string) []upstream.UploadedMaterial {
	if len(requestBody) == 0 || contentType == "" {
		return nil
	}

	files, err := extractMultipartFiles(contentType, requestBody)
	if err != nil || len(files) == 0 {
		return nil
	}

	materials := make([]upstream.UploadedMaterial, 0, len(files))
	for _, f := range files {
		materialType := upstream.DetectMaterialTypeFromMIME(f.contentType)
		switch materialType {
		case upstream.MaterialImage:
			uri, err := q.client.UploadImage(ctx, sessionToken, f.data)
			if err != nil {
				log.Printf("material upload failed, skipping %q: %v", f.filename, err)
				continue
			}
			materials = append(materials, upstream.UploadedMaterial{
				MaterialType: materialType,
				URI:          uri,
				Name:         f.filename,
			})
		default:
			result, err := q.client.UploadMedia(ctx, sessionToken, f.data, materialType)
			if err != nil {
				log.Printf("material upload failed, skipping %q: %v", f.filename, err)
				continue
			}
			materials = append(materials, upstream.UploadedMaterial{
				MaterialType: materialType,
				VID:          result.VID,
				Width:        result.Width,
				Height:       result.Height,
				Duration:     result.Duration,
				FPS:          result.FPS,
				Name:         f.filename,
			})
		}
	}
	return materials
}

type multipartFile struct {
	filename    string
	contentType string
	data        []byte
}

// extractMultipartFiles parses a stored multipart/form-data request
// body with the standard library reader, keeping only parts that carry
// a filename (i.e. file inputs, not plain form fields).
func extractMultipartFiles(contentType string, body []byte) ([]multipartFile, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart content type missing boundary")
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var files []multipartFile
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		filename := part.FileName()
		if filename == "" {
			continue
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		ct := part.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}
		files = append(files, multipartFile{filename: filename, contentType: ct, data: data})
	}
	return files, nil
}

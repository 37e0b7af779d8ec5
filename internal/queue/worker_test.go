package queue

import (
	"bytes"
	"mime/multipart"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]string{
		"401 Unauthorized: please login again": "auth",
		"invalid session token":                 "auth",
		"context deadline exceeded: timeout":    "timeout",
		"request timed out after 30s":           "timeout",
		"内容违规，无法生成":                           "platform_rule",
		"命中平台规则":                              "platform_rule",
		"dial tcp: network is unreachable":      "network",
		"something unexpected happened":         "unknown",
	}
	for msg, want := range cases {
		if got := classifyError(msg); got != want {
			t.Errorf("classifyError(%q) = %q, want %q", msg, got, want)
		}
	}
}

func buildMultipartBody(t *testing.T, filename, content string) (string, []byte) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return w.FormDataContentType(), buf.Bytes()
}

func TestExtractMultipartFilesSkipsFieldsWithoutFilename(t *testing.T) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("prompt", "a cat"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	part, err := w.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("fake-png-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	files, err := extractMultipartFiles(w.FormDataContentType(), buf.Bytes())
	if err != nil {
		t.Fatalf("extractMultipartFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file (the field should be skipped), got %d", len(files))
	}
	if files[0].filename != "photo.png" {
		t.Fatalf("unexpected filename: %q", files[0].filename)
	}
	if string(files[0].data) != "fake-png-bytes" {
		t.Fatalf("unexpected file contents: %q", files[0].data)
	}
}

func TestExtractMultipartFilesBadBoundary(t *testing.T) {
	if _, err := extractMultipartFiles("multipart/form-data", []byte("garbage")); err == nil {
		t.Fatal("expected an error when the content type has no boundary parameter")
	}
}

func TestExtractMultipartFilesSingleVideoPart(t *testing.T) {
	contentType, body := buildMultipartBody(t, "clip.mp4", "fake-mp4-bytes")
	files, err := extractMultipartFiles(contentType, body)
	if err != nil {
		t.Fatalf("extractMultipartFiles: %v", err)
	}
	if len(files) != 1 || files[0].filename != "clip.mp4" {
		t.Fatalf("unexpected result: %+v", files)
	}
}

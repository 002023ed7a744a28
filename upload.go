package rocketchat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const maxUploadSize = 50 * 1024 * 1024

// Upload uploads file bytes to a room and posts them as a message.
func (r *RoomsClient) Upload(ctx context.Context, roomID string, data []byte, opts *UploadOptions) (*MessageResult, error) {
	if roomID == "" {
		return nil, fmt.Errorf("roomId is required")
	}
	if opts == nil || opts.FileName == "" {
		return nil, fmt.Errorf("fileName is required when uploading bytes")
	}
	if len(data) > maxUploadSize {
		return nil, fmt.Errorf("file exceeds maximum size of 50 MB")
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(opts.FileName)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, opts.FileName))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if opts.Message != "" {
		_ = w.WriteField("msg", opts.Message)
	}
	if opts.Description != "" {
		_ = w.WriteField("description", opts.Description)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", r.c.host+apiPrefix+"rooms.upload/"+roomID, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	r.c.setAuthHeaders(req)

	resp, err := r.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	return decodeJSON[MessageResult](body, resp.StatusCode)
}

// UploadFile uploads a file from a local path.
func (r *RoomsClient) UploadFile(ctx context.Context, roomID, filePath string, opts *UploadOptions) (*MessageResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if opts == nil {
		opts = &UploadOptions{}
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Base(filePath)
	}
	return r.Upload(ctx, roomID, data, opts)
}

// UploadFromURL downloads a remote file and uploads it to a room. headers are
// sent with the download request only.
func (r *RoomsClient) UploadFromURL(ctx context.Context, roomID, fileURL, caption string, headers map[string]string) (*MessageResult, error) {
	if fileURL == "" {
		return nil, fmt.Errorf("file url is required")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}

	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "attachment"
	}
	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.Index(mimeType, ";"); idx > 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if filepath.Ext(name) == "" && mimeType != "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			name += exts[0]
		}
	}
	return r.Upload(ctx, roomID, data, &UploadOptions{FileName: name, MimeType: mimeType, Message: caption})
}

// IsInvalidFileType reports whether err is the server rejecting the upload's file type.
func IsInvalidFileType(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "error-invalid-file-type"
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm", ".ogg": "audio/ogg",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

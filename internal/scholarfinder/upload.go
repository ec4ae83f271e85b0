package scholarfinder

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// UploadPolicy holds the pre-flight checks applied to a manuscript file
// before any network call is made
type UploadPolicy struct {
	MaxSizeBytes      int64
	AllowedExtensions []string
}

// DefaultUploadPolicy matches what the remote service accepts
var DefaultUploadPolicy = UploadPolicy{
	MaxSizeBytes:      20 << 20,
	AllowedExtensions: []string{".doc", ".docx"},
}

// Validate checks a manuscript file name and size against the policy.
// Failures are FILE_FORMAT errors: non-retryable and never sent anywhere.
func (p UploadPolicy) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, a := range p.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return NewAPIError(KindFileFormat,
			fmt.Sprintf("file type %q is not supported; allowed: %s", ext, strings.Join(p.AllowedExtensions, ", ")),
			false)
	}

	if size <= 0 {
		return NewAPIError(KindFileFormat, "file is empty", false)
	}
	if p.MaxSizeBytes > 0 && size > p.MaxSizeBytes {
		return NewAPIError(KindFileFormat,
			fmt.Sprintf("file is %d bytes, above the %d byte limit", size, p.MaxSizeBytes),
			false)
	}

	return nil
}

// UploadManuscript uploads a manuscript and returns the extracted metadata,
// including the job id that correlates every later call. The file content is
// held in memory so the multipart body can be rebuilt on retry.
func (c *Client) UploadManuscript(ctx context.Context, filename string, content []byte) (*Metadata, error) {
	if err := c.upload.Validate(filename, int64(len(content))); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, opUpload, func() (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		part, err := writer.CreateFormFile("file", filepath.Base(filename))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(content); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, http.MethodPost, "/upload_extract_metadata", nil, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := c.decode(opUpload, body, &meta); err != nil {
		return nil, err
	}
	if meta.JobID == "" {
		return nil, c.shapeError(opUpload, "response is missing job_id")
	}
	if meta.FileName == "" {
		meta.FileName = filepath.Base(filename)
	}

	return &meta, nil
}

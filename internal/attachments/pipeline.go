// Package attachments validates, classifies and stores message attachments.
package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/metrics"
	"github.com/gigboard/marketplace/internal/models"
)

var log = logger.New("attachments")

// ValidationError rejects a whole upload batch before anything is stored
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// Upload is one file handed to the pipeline
type Upload struct {
	Name string
	// DeclaredType is the client's Content-Type, logged but never trusted
	DeclaredType string
	Open         func() (io.ReadCloser, error)
}

// FromMultipart adapts a multipart form file
func FromMultipart(fh *multipart.FileHeader) Upload {
	return Upload{
		Name:         fh.Filename,
		DeclaredType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// FromBytes is mostly used by tests and internal callers
func FromBytes(name string, data []byte) Upload {
	return Upload{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Policy bounds what a single batch may contain
type Policy struct {
	MaxFileSize int64
	MaxFiles    int
}

// Pipeline turns uploads into attachment descriptors
type Pipeline struct {
	storage Storage
	policy  Policy
}

func NewPipeline(storage Storage, policy Policy) *Pipeline {
	return &Pipeline{storage: storage, policy: policy}
}

// Policy returns the limits the pipeline enforces
func (p *Pipeline) Policy() Policy {
	return p.policy
}

type staged struct {
	name string
	kind string
	ext  string
	data []byte
}

// Process validates every file first and only then writes them, so a rejected
// batch leaves nothing behind. Descriptors come back in input order.
func (p *Pipeline) Process(ctx context.Context, uploads []Upload) ([]models.Attachment, error) {
	if len(uploads) == 0 {
		return nil, &ValidationError{Reason: "no files uploaded"}
	}
	if len(uploads) > p.policy.MaxFiles {
		metrics.UploadsRejected.Inc()
		return nil, &ValidationError{Reason: fmt.Sprintf("too many files: %d, at most %d allowed", len(uploads), p.policy.MaxFiles)}
	}

	batch := make([]staged, 0, len(uploads))
	for _, u := range uploads {
		s, err := p.stage(u)
		if err != nil {
			metrics.UploadsRejected.Inc()
			return nil, err
		}
		batch = append(batch, s)
	}

	result := make([]models.Attachment, 0, len(batch))
	var saved []string
	for _, s := range batch {
		key := uuid.NewString() + s.ext
		url, err := p.storage.Save(ctx, key, bytes.NewReader(s.data))
		if err != nil {
			p.rollback(saved)
			return nil, fmt.Errorf("failed to store %s: %w", s.name, err)
		}
		saved = append(saved, key)
		metrics.UploadsAccepted.WithLabelValues(s.kind).Inc()
		result = append(result, models.Attachment{URL: url, Type: s.kind, Name: s.name})
	}

	log.Debug("Stored %d attachment(s)", len(result))
	return result, nil
}

func (p *Pipeline) stage(u Upload) (staged, error) {
	name := cleanName(u.Name)

	rc, err := u.Open()
	if err != nil {
		return staged{}, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	// read one byte past the ceiling to detect oversize files without buffering them whole
	data, err := io.ReadAll(io.LimitReader(rc, p.policy.MaxFileSize+1))
	if err != nil {
		return staged{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > p.policy.MaxFileSize {
		return staged{}, &ValidationError{File: name, Reason: "file exceeds " + humanize.Bytes(uint64(p.policy.MaxFileSize))}
	}
	if len(data) == 0 {
		return staged{}, &ValidationError{File: name, Reason: "file is empty"}
	}

	mimeType, ext := Detect(data)
	kind, ok := Classify(mimeType)
	if !ok {
		log.Debug("Rejected %s: detected %s, declared %q", name, mimeType, u.DeclaredType)
		return staged{}, &ValidationError{File: name, Reason: "file type " + mimeType + " is not allowed"}
	}
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(name))
	}

	return staged{name: name, kind: kind, ext: ext, data: data}, nil
}

// rollback is best effort, a leftover file is picked up by the sweeper
func (p *Pipeline) rollback(keys []string) {
	for _, key := range keys {
		if err := p.storage.Delete(context.Background(), key); err != nil {
			log.Warn("Failed to remove %s after a failed batch: %v", key, err)
		}
	}
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

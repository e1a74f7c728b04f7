// Package notes accepts uploaded clinician notes and tracks them through the
// processing lifecycle.
package notes

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxUploadBytes caps the size of an uploaded note.
const DefaultMaxUploadBytes = 5 * 1024 * 1024

// Upload rejection codes.
const (
	CodeNoFile          = "NO_FILE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidContent  = "INVALID_INPUT"
)

// ErrInvalidUpload matches every UploadError.
var ErrInvalidUpload = errors.New("invalid upload")

// UploadError describes why an upload was rejected.
type UploadError struct {
	Code    string
	Message string
}

func (e *UploadError) Error() string { return e.Message }

func (e *UploadError) Is(target error) bool { return target == ErrInvalidUpload }

func rejectUpload(code, msg string) error {
	return &UploadError{Code: code, Message: msg}
}

// Queue receives the ids of notes ready for processing.
type Queue interface {
	Enqueue(id string) bool
}

type Service struct {
	store    *Store
	queue    Queue
	maxBytes int64
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService wires note intake. A maxBytes of zero or less uses
// DefaultMaxUploadBytes.
func NewService(store *Store, queue Queue, maxBytes int64, logger zerolog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Service{
		store:    store,
		queue:    queue,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "notes").Logger(),
		now:      time.Now,
	}
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload checks and stores a note, then hands it to the processing queue.
func (s *Service) Upload(filename string, content []byte) (Note, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return Note{}, rejectUpload(CodeNoFile, "No file uploaded")
	}
	if !strings.EqualFold(filepath.Ext(filename), ".txt") {
		return Note{}, rejectUpload(CodeInvalidFileType, "Only .txt files are allowed")
	}
	if int64(len(content)) > s.maxBytes {
		return Note{}, rejectUpload(CodeFileTooLarge, fmt.Sprintf("File exceeds the %d byte limit", s.maxBytes))
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Note{}, rejectUpload(CodeInvalidContent, "File is empty")
	}
	if !utf8.Valid(content) {
		return Note{}, rejectUpload(CodeInvalidContent, "File is not valid UTF-8 text")
	}

	n := Note{
		ID:         "NOTE-" + uuid.NewString(),
		Filename:   filename,
		Content:    string(content),
		UploadedAt: s.now().UTC(),
		Status:     StatusPending,
	}
	if err := s.store.Create(n); err != nil {
		return Note{}, err
	}
	s.logger.Info().Str("note_id", n.ID).Str("filename", filename).Int("bytes", len(content)).Msg("note uploaded")

	if s.queue != nil && !s.queue.Enqueue(n.ID) {
		s.logger.Warn().Str("note_id", n.ID).Msg("note not enqueued")
	}
	return n, nil
}

func (s *Service) Get(id string) (Note, error) {
	return s.store.Get(id)
}

func (s *Service) List() []Note {
	return s.store.List()
}

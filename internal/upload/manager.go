// Package upload assembles chunked trace uploads in the background and
// decompresses them when the client sent a compressed stream.
package upload

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// ErrUnknownEncoding is returned by StartJob for unsupported encodings.
var ErrUnknownEncoding = errors.New("unknown encoding")

// Job represents an async upload processing job.
type Job struct {
	ID           string           `json:"id"`
	UploadID     string           `json:"uploadId"`
	FileName     string           `json:"fileName"`
	TotalChunks  int              `json:"totalChunks"`
	OriginalSize int64            `json:"originalSize"`
	Encoding     string           `json:"encoding"`
	Status       Status           `json:"status"`
	Progress     float64          `json:"progress"`
	Stage        string           `json:"stage"`
	FileInfo     *models.FileInfo `json:"fileInfo,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// Done reports whether the job has finished, successfully or not.
func (j *Job) Done() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Store is the part of the storage layer a job needs.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Delete(id string) error
}

// Manager runs upload jobs.
type Manager struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	store Store
	log   *logger.Logger
}

// NewManager creates a new upload processing manager.
func NewManager(store Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		jobs:  make(map[string]*Job),
		store: store,
		log: log.With(func(c zerolog.Context) zerolog.Context {
			return c.Str("component", "upload")
		}),
	}
}

// StartJob begins async processing of a chunked upload.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, originalSize int64, encoding string) (*Job, error) {
	if !validEncoding(encoding) {
		return nil, unknownEncoding(encoding)
	}

	job := &Job{
		ID:           uuid.New().String(),
		UploadID:     uploadID,
		FileName:     fileName,
		TotalChunks:  totalChunks,
		OriginalSize: originalSize,
		Encoding:     encoding,
		Status:       StatusProcessing,
		Stage:        "preparing",
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.processJob(job)

	snapshot := *job
	return &snapshot, nil
}

// GetJob returns a snapshot of a job.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

func (m *Manager) processJob(job *Job) {
	log := m.log.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("job", job.ID).Str("file", job.FileName)
	})
	log.Info().Int("chunks", job.TotalChunks).Str("encoding", job.Encoding).Msg("processing upload")

	m.updateJob(job, StatusAssembling, "assembling chunks", 0)
	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.failJob(job, log, errors.Wrap(err, "assembling chunks"))
		return
	}
	m.updateJob(job, StatusAssembling, "assembling chunks", 100)

	if dec, ok := decoders[job.Encoding]; ok {
		m.updateJob(job, StatusDecompressing, "decompressing file", 0)
		plain, err := m.decompress(job, info, dec)
		if err != nil {
			m.store.Delete(info.ID)
			m.failJob(job, log, errors.Wrap(err, "decompressing"))
			return
		}
		if err := m.store.Delete(info.ID); err != nil {
			log.Warn().Err(err).Msg("removing compressed upload")
		}
		info = plain
	}

	m.mu.Lock()
	job.FileInfo = info
	job.Status = StatusComplete
	job.Stage = "complete"
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	log.Info().Str("id", info.ID).Int64("size", info.Size).Msg("upload complete")
}

// decompress stores the decoded content of info as a new file.
func (m *Manager) decompress(job *Job, info *models.FileInfo, dec decoderFunc) (*models.FileInfo, error) {
	path, err := m.store.GetFilePath(info.ID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := dec(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	counted := &progressReader{r: r, onRead: func(n int64) {
		if job.OriginalSize > 0 {
			m.updateJob(job, StatusDecompressing, "decompressing file", min(99, float64(n)*100/float64(job.OriginalSize)))
		}
	}}
	plain, err := m.store.Save(job.FileName, counted)
	if err != nil {
		return nil, err
	}
	if job.OriginalSize > 0 && plain.Size != job.OriginalSize {
		m.store.Delete(plain.ID)
		return nil, errors.Errorf("decompressed size mismatch: got %d bytes, expected %d", plain.Size, job.OriginalSize)
	}
	return plain, nil
}

// updateJob sets stage progress; assembling covers 0-40% and
// decompressing 40-100% of the overall progress.
func (m *Manager) updateJob(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	switch status {
	case StatusAssembling:
		job.Progress = stageProgress * 0.4
	case StatusDecompressing:
		job.Progress = 40 + stageProgress*0.6
	}
}

func (m *Manager) failJob(job *Job, log *logger.Logger, err error) {
	m.mu.Lock()
	job.Status = StatusError
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	log.Error().Err(err).Msg("upload failed")
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}

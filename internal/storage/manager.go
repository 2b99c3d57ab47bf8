package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cantrace/backend/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrFileNotFound is returned for unknown file ids.
var ErrFileNotFound = errors.New("file not found")

// MaxTraceSize bounds how much of a stored trace ReadText will load.
const MaxTraceSize = 512 << 20

// Store defines the interface for trace file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	ReadText(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
}

// LocalStore implements Store on the local filesystem. Metadata is kept
// in memory; file contents live under uploadDir named by id.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating upload directory")
	}

	return &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

func notFound(id string) error {
	return errors.Wrapf(ErrFileNotFound, "id %s", id)
}

// Save copies r into a new trace file.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating file")
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrap(err, "writing file")
	}

	return s.register(id, name, size), nil
}

// SaveBytes stores an in-memory trace.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

func (s *LocalStore) register(id, name string, size int64) *models.FileInfo {
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	return info
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, notFound(id)
	}
	return info, nil
}

// List returns the most recent files, newest first.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return notFound(id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting file")
	}

	delete(s.files, id)
	return nil
}

// Rename updates the display name of a file.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return nil, notFound(id)
	}

	info.Name = newName
	return info, nil
}

// GetFilePath returns the path to a stored file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", notFound(id)
	}
	return filepath.Join(s.uploadDir, id), nil
}

// ReadText loads a stored trace as a string for the filter engine.
func (s *LocalStore) ReadText(id string) (string, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening trace")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxTraceSize+1))
	if err != nil {
		return "", errors.Wrap(err, "reading trace")
	}
	if len(data) > MaxTraceSize {
		return "", errors.Errorf("trace %s exceeds %d bytes", id, MaxTraceSize)
	}
	return string(data), nil
}

func (s *LocalStore) chunkDir(uploadID string) string {
	return filepath.Join(s.uploadDir, "chunks", filepath.Base(uploadID))
}

// SaveChunk saves a single chunk of a chunked upload.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if chunkIndex < 0 {
		return errors.Errorf("invalid chunk index %d", chunkIndex)
	}
	dir := s.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating chunk directory")
	}

	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("chunk_%d", chunkIndex)))
	if err != nil {
		return errors.Wrap(err, "creating chunk file")
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return errors.Wrap(err, "writing chunk")
	}
	return nil
}

// CompleteChunkedUpload assembles all chunks into a final file and
// removes the chunk directory.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	id := uuid.New().String()
	finalPath := filepath.Join(s.uploadDir, id)
	dir := s.chunkDir(uploadID)

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, errors.Wrap(err, "creating final file")
	}

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		n, err := appendChunk(out, filepath.Join(dir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, errors.Wrapf(err, "chunk %d", i)
		}
		totalSize += n
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return nil, errors.Wrap(err, "closing final file")
	}

	os.RemoveAll(dir)
	return s.register(id, name, totalSize), nil
}

func appendChunk(dst io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.Copy(dst, in)
}

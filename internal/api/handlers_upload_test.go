package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/session"
	"github.com/cantrace/backend/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadHandler_UploadFile(t *testing.T) {
	s := newTestServer(t, session.Config{})

	body, ct := multipartBody(t, "file", "bench.log", []byte(testTrace), nil)
	rec := s.do(http.MethodPost, "/api/files/upload", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info models.FileInfo
	decode(t, rec, &info)
	assert.Equal(t, "bench.log", info.Name)
	assert.Equal(t, int64(len(testTrace)), info.Size)
	assert.Equal(t, 1, s.store.FileCount())
}

func TestUploadHandler_UploadFileMissing(t *testing.T) {
	s := newTestServer(t, session.Config{})

	body, ct := multipartBody(t, "other", "bench.log", []byte(testTrace), nil)
	rec := s.do(http.MethodPost, "/api/files/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"BAD_REQUEST"`)
}

func TestUploadHandler_ChunkedUpload(t *testing.T) {
	s := newTestServer(t, session.Config{})
	chunks := []string{"PORT1 581 8 43 10 20 ", "01 00 00 00\n"}

	for i, chunk := range chunks {
		body, ct := multipartBody(t, "file", "blob", []byte(chunk), map[string]string{
			"uploadId":   "up-1",
			"chunkIndex": string(rune('0' + i)),
		})
		rec := s.do(http.MethodPost, "/api/files/upload/chunk", body, ct)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := s.doJSON(http.MethodPost, "/api/files/upload/complete", map[string]interface{}{
		"uploadId":    "up-1",
		"name":        "combined.log",
		"totalChunks": 2,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started struct {
		JobID string `json:"jobId"`
	}
	decode(t, rec, &started)
	require.NotEmpty(t, started.JobID)

	var job upload.Job
	require.Eventually(t, func() bool {
		rec := s.do(http.MethodGet, "/api/files/upload/jobs/"+started.JobID, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		return json.Unmarshal(rec.Body.Bytes(), &job) == nil && job.Done()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, upload.StatusComplete, job.Status, job.Error)
	assert.Equal(t, "combined.log", job.FileInfo.Name)
	assert.Equal(t, int64(len(chunks[0]+chunks[1])), job.FileInfo.Size)
}

func TestUploadHandler_ChunkValidation(t *testing.T) {
	s := newTestServer(t, session.Config{})

	body, ct := multipartBody(t, "file", "blob", []byte("x"), map[string]string{"chunkIndex": "0"})
	rec := s.do(http.MethodPost, "/api/files/upload/chunk", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "uploadId")

	body, ct = multipartBody(t, "file", "blob", []byte("x"), map[string]string{"uploadId": "u", "chunkIndex": "-1"})
	rec = s.do(http.MethodPost, "/api/files/upload/chunk", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadHandler_CompleteValidation(t *testing.T) {
	s := newTestServer(t, session.Config{})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing upload id", map[string]interface{}{"name": "a", "totalChunks": 1}},
		{"missing name", map[string]interface{}{"uploadId": "u", "totalChunks": 1}},
		{"zero chunks", map[string]interface{}{"uploadId": "u", "name": "a"}},
		{"unknown encoding", map[string]interface{}{"uploadId": "u", "name": "a", "totalChunks": 1, "encoding": "brotli"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doJSON(http.MethodPost, "/api/files/upload/complete", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestUploadHandler_UnknownJob(t *testing.T) {
	s := newTestServer(t, session.Config{})
	rec := s.do(http.MethodGet, "/api/files/upload/jobs/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadHandler_FileLifecycle(t *testing.T) {
	s := newTestServer(t, session.Config{})
	s.store.AddFile("f1", "bench.log", []byte(testTrace))

	rec := s.do(http.MethodGet, "/api/files/recent", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []models.FileInfo
	decode(t, rec, &files)
	require.Len(t, files, 1)

	rec = s.doJSON(http.MethodPut, "/api/files/f1", map[string]string{"name": "renamed.log"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"renamed.log"`)

	rec = s.doJSON(http.MethodPut, "/api/files/f1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/files/f1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// deleting the file closes sessions opened on it
	rec = s.doJSON(http.MethodPost, "/api/sessions", map[string]string{"fileId": "f1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, s.sessions.Len())

	rec = s.do(http.MethodDelete, "/api/files/f1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.sessions.Len())

	rec = s.do(http.MethodGet, "/api/files/f1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodDelete, "/api/files/f1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

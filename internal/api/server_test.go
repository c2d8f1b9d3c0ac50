package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-analysis-pipeline/internal/blob"
	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/models"
	"content-analysis-pipeline/internal/store"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]models.Job)}
}

func (m *memJobs) CreateJob(_ context.Context, id, filename, contentType string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := models.Job{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	m.jobs[id] = job
	return job, nil
}

func (m *memJobs) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (m *memJobs) ListJobs(_ context.Context, _ int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

type memEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (q *memEnqueuer) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type fixedLimiter struct {
	allowed bool
}

func (l fixedLimiter) Allow(context.Context, string) (bool, error) {
	return l.allowed, nil
}

func newTestServer(t *testing.T, jobs *memJobs, q *memEnqueuer, limiter Limiter) (*httptest.Server, blob.ObjectStore) {
	t.Helper()
	blobs := &blob.LocalStore{BaseDir: t.TempDir()}
	s := New(config.Config{}, jobs, q, blobs, limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, blobs
}

func multipartUpload(t *testing.T, url, filename, contentType string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestUploadCreatesPendingJobAndEnqueues(t *testing.T) {
	jobs := newMemJobs()
	q := &memEnqueuer{}
	srv, blobs := newTestServer(t, jobs, q, nil)

	resp := multipartUpload(t, srv.URL, "photo.png", "image/png", []byte("png-bytes"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	id := out["id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "uploaded", out["status"])

	job, err := jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "photo.png", job.Filename)
	assert.Equal(t, "image/png", job.ContentType)
	assert.Nil(t, job.AnalysisCategory)
	assert.Nil(t, job.Result)

	assert.Equal(t, []string{id}, q.ids)

	data, err := blobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestUploadWithoutFileIs400(t *testing.T) {
	srv, _ := newTestServer(t, newMemJobs(), &memEnqueuer{}, nil)

	resp, err := http.Post(srv.URL+"/upload", "application/x-www-form-urlencoded", bytes.NewBufferString("x=1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRateLimited(t *testing.T) {
	jobs := newMemJobs()
	q := &memEnqueuer{}
	srv, _ := newTestServer(t, jobs, q, fixedLimiter{allowed: false})

	resp := multipartUpload(t, srv.URL, "a.txt", "text/plain", []byte("hi"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, q.ids)
	assert.Empty(t, jobs.jobs)
}

func TestStatusEndpoint(t *testing.T) {
	jobs := newMemJobs()
	srv, _ := newTestServer(t, jobs, &memEnqueuer{}, nil)

	_, err := jobs.CreateJob(context.Background(), "J1", "a.txt", "text/plain")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/status/J1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job models.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "J1", job.ID)
	assert.Equal(t, models.StatusPending, job.Status)

	missing, err := http.Get(srv.URL + "/status/unknown")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListEndpoint(t *testing.T) {
	jobs := newMemJobs()
	srv, _ := newTestServer(t, jobs, &memEnqueuer{}, nil)

	_, err := jobs.CreateJob(context.Background(), "J1", "a.txt", "text/plain")
	require.NoError(t, err)
	_, err = jobs.CreateJob(context.Background(), "J2", "b.png", "image/png")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/files")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []models.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out, 2)
}

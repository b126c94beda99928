package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipeline/internal/blob"
	"imagepipeline/internal/bus"
	"imagepipeline/internal/models"
	"imagepipeline/internal/resize"
	"imagepipeline/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memUploads is an in-memory UploadStore.
type memUploads struct {
	mu      sync.Mutex
	records map[string]models.UploadRecord
}

func newMemUploads() *memUploads {
	return &memUploads{records: make(map[string]models.UploadRecord)}
}

func (m *memUploads) SaveUpload(_ context.Context, rec models.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.CorrelationID]; exists {
		return fmt.Errorf("duplicate correlation id %q", rec.CorrelationID)
	}
	m.records[rec.CorrelationID] = rec
	return nil
}

func (m *memUploads) GetUpload(_ context.Context, correlationID string) (models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[correlationID]
	if !ok {
		return models.UploadRecord{}, models.ErrNotFound
	}
	return rec, nil
}

type testEnv struct {
	server   *Server
	store    *blob.Memory
	bus      *bus.Memory
	uploads  *memUploads
	statuses *tracker.Memory
}

func newTestEnv(t *testing.T, cfg *models.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &models.Config{MaxUploadMB: 50}
	}
	env := &testEnv{
		store:    blob.NewMemory(),
		bus:      bus.NewMemory(),
		uploads:  newMemUploads(),
		statuses: tracker.NewMemory(),
	}
	env.server = NewServer(cfg, env.uploads, env.statuses, env.store, env.bus)
	return env
}

// wirePipeline attaches the three resize workers and the tracker to the
// in-process bus, so an upload runs the whole fan-out/fan-in synchronously.
func (e *testEnv) wirePipeline(t *testing.T) {
	t.Helper()
	for _, kind := range models.Variants() {
		worker, err := resize.NewWorker(kind, e.store, e.bus)
		require.NoError(t, err)
		worker.Register()
	}
	tracker.New(e.statuses, e.bus).Register()
}

func pngBase64(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.PNG))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postUpload(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestUploadSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	body := fmt.Sprintf(`{"filename":"photo.png","data":%q}`, pngBase64(t, 10, 10))
	w := postUpload(t, env.server.Router(), body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		CorrelationID string              `json:"correlationId"`
		ImageMetadata models.UploadRecord `json:"imageMetadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, "photo.png", resp.ImageMetadata.OriginalFilename)
	assert.Equal(t, models.FormatPNG, resp.ImageMetadata.Format)
	assert.True(t, strings.HasPrefix(resp.ImageMetadata.OriginalStorageKey, "originals/photo_"))

	// Original persisted with its content type.
	assert.True(t, env.store.Has(resp.ImageMetadata.OriginalStorageKey))
	assert.Equal(t, "image/png", env.store.ContentTypeOf(resp.ImageMetadata.OriginalStorageKey))

	// Exactly one upload record.
	rec, err := env.uploads.GetUpload(context.Background(), resp.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, resp.ImageMetadata.UniqueFilename, rec.UniqueFilename)
}

func TestUploadAcceptsDataURI(t *testing.T) {
	env := newTestEnv(t, nil)

	data := "data:image/png;base64," + pngBase64(t, 4, 4)
	body := fmt.Sprintf(`{"filename":"photo.png","data":%q}`, data)
	w := postUpload(t, env.server.Router(), body)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUploadRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	w := postUpload(t, env.server.Router(), `{"filename": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	body := fmt.Sprintf(`{"filename":"photo.gif","data":%q}`, pngBase64(t, 4, 4))
	w := postUpload(t, env.server.Router(), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid image format")
}

func TestUploadRejectsInvalidBase64(t *testing.T) {
	env := newTestEnv(t, nil)
	w := postUpload(t, env.server.Router(), `{"filename":"photo.png","data":"%%%not-base64%%%"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid base64")
}

func TestUploadRejectsOversizedPayload(t *testing.T) {
	env := newTestEnv(t, &models.Config{MaxUploadMB: 1})

	big := base64.StdEncoding.EncodeToString(make([]byte, 2*1024*1024))
	body := fmt.Sprintf(`{"filename":"photo.png","data":%q}`, big)
	w := postUpload(t, env.server.Router(), body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file too large")
}

func TestStatusUnknownCorrelationID(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/status/nope", nil)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusBeforeAnyCompletion(t *testing.T) {
	env := newTestEnv(t, nil)

	body := fmt.Sprintf(`{"filename":"photo.png","data":%q}`, pngBase64(t, 4, 4))
	w := postUpload(t, env.server.Router(), body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CorrelationID string `json:"correlationId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/status/"+resp.CorrelationID, nil)
	sw := httptest.NewRecorder()
	env.server.Router().ServeHTTP(sw, req)

	require.Equal(t, http.StatusOK, sw.Code)
	var status models.ProcessingStatus
	require.NoError(t, json.Unmarshal(sw.Body.Bytes(), &status))
	assert.False(t, status.AllComplete())
	assert.Nil(t, status.CompletedAt)
}

func TestUploadRunsFullPipeline(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wirePipeline(t)

	body := fmt.Sprintf(`{"filename":"photo.png","data":%q}`, pngBase64(t, 2000, 1000))
	w := postUpload(t, env.server.Router(), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		CorrelationID string              `json:"correlationId"`
		ImageMetadata models.UploadRecord `json:"imageMetadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// The in-process bus delivers synchronously, so by now all three
	// derivatives exist and the status is terminal.
	derived := resp.ImageMetadata.UniqueFilename
	base := strings.TrimSuffix(derived, ".png")
	assert.True(t, env.store.Has("desktop/"+base+"-desktop.png"))
	assert.True(t, env.store.Has("mobile/"+base+"-mobile.png"))
	assert.True(t, env.store.Has("lowquality/"+base+"-lowquality.png"))

	status, err := env.statuses.GetStatus(context.Background(), resp.CorrelationID)
	require.NoError(t, err)
	assert.True(t, status.AllComplete())
	require.NotNil(t, status.CompletedAt)

	req := httptest.NewRequest(http.MethodGet, "/status/"+resp.CorrelationID, nil)
	sw := httptest.NewRecorder()
	env.server.Router().ServeHTTP(sw, req)
	require.Equal(t, http.StatusOK, sw.Code)
	assert.Contains(t, sw.Body.String(), `"desktopComplete":true`)
}

package handlers_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seedream-proxy/internal/handlers"
	"seedream-proxy/internal/replicate"
	"seedream-proxy/internal/services"
	"seedream-proxy/internal/uploads"
	"seedream-proxy/internal/upstream"
)

const testToken = "r8_secret_token"

type fakeReplicate struct {
	calls      atomic.Int32
	created    atomic.Int32
	createFail int
	mu         sync.Mutex
	lastInput  map[string]any
}

func (f *fakeReplicate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/models/bytedance/seedream-4/predictions":
		var body struct {
			Input map[string]any `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastInput = body.Input
		f.mu.Unlock()

		if f.createFail != 0 {
			w.WriteHeader(f.createFail)
			w.Write([]byte(`{"detail":"Invalid input: prompt too long"}`))
			return
		}
		n := f.created.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"pred-%d","status":"succeeded","output":["https://replicate.delivery/%d.png"],"urls":{"get":"https://api.replicate.com/v1/predictions/pred-%d","web":"https://replicate.com/p/pred-%d"}}`, n, n, n, n)
	case r.Method == http.MethodGet && r.URL.Path == "/predictions/pred-1":
		w.Write([]byte(`{"id":"pred-1","status":"processing","output":null}`))
	case r.Method == http.MethodGet && r.URL.Path == "/predictions/plain":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("upstream says hi"))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not found."}`))
	}
}

type testEnv struct {
	router    *gin.Engine
	fake      *fakeReplicate
	uploadDir string
	staticDir string
}

type envOptions struct {
	token         string
	replicateURL  string
	verify        bool
	publicBaseURL string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeReplicate{}
	if opts.replicateURL == "" {
		server := httptest.NewServer(fake)
		t.Cleanup(server.Close)
		opts.replicateURL = server.URL
	}

	caller := upstream.NewClient(upstream.Options{Timeout: 2 * time.Second, MaxRetries: 0})
	schema, err := replicate.LookupSchema("seedream-4")
	require.NoError(t, err)
	client, err := replicate.NewClient(replicate.Options{
		BaseURL: opts.replicateURL,
		Token:   opts.token,
		Model:   "bytedance/seedream-4",
		Schema:  schema,
		Caller:  caller,
	})
	require.NoError(t, err)

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	ingestorOpts := uploads.IngestorOptions{Store: uploads.NewLocalStore(uploadDir), MaxBytes: 1 << 20}
	if opts.verify {
		ingestorOpts.Verifier = upstream.NewClient(upstream.Options{Timeout: 2 * time.Second})
	}

	router := gin.New()
	handlers.RegisterRoutes(router, handlers.Routes{
		Health:      handlers.NewHealthHandler(client.HasToken(), caller.Timeout(), caller.MaxRetries()),
		Generate:    handlers.NewGenerateHandler(services.NewGenerationService(client, false, nil)),
		Predictions: handlers.NewPredictionsHandler(services.NewPredictionService(client)),
		Upload:      handlers.NewUploadHandler(uploads.NewIngestor(ingestorOpts), opts.publicBaseURL, 1<<20),
		Files:       handlers.NewFilesHandler(uploadDir, staticDir),
	})

	return &testEnv{router: router, fake: fake, uploadDir: uploadDir, staticDir: staticDir}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"hasToken":true,"timeoutMs":2000,"maxRetries":0}`, w.Body.String())

	env = newTestEnv(t, envOptions{})
	w = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["hasToken"])
}

func TestGenerate_BlankPromptIsRejectedWithoutUpstreamCalls(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	for _, body := range []string{`{"prompt":""}`, `{"prompt":"   "}`, `{"numImages":2}`} {
		w := env.do(http.MethodPost, "/api/generate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.NotEmpty(t, decodeBody(t, w)["error"])
	}
	assert.Equal(t, int32(0), env.fake.calls.Load())
}

func TestGenerate_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodPost, "/api/generate", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decodeBody(t, w)["error"])
}

func TestGenerate_MissingToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
	assert.Equal(t, int32(0), env.fake.calls.Load())
}

func TestGenerate_Single(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodPost, "/api/generate", `{"prompt":"a cat","numImages":"abc","aspect":"1:1","imageUrl":"https://x/ref.png"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "single", body["mode"])
	assert.Equal(t, "pred-1", body["id"])
	assert.Equal(t, "https://api.replicate.com/v1/predictions/pred-1", body["getUrl"])
	assert.Equal(t, "https://replicate.com/p/pred-1", body["webUrl"])
	assert.Equal(t, "succeeded", body["status"])
	assert.Equal(t, []any{"https://replicate.delivery/1.png"}, body["output"])

	assert.Equal(t, "1:1", env.fake.lastInput["aspect_ratio"])
	assert.Equal(t, []any{"https://x/ref.png"}, env.fake.lastInput["image_input"])
}

func TestGenerate_BatchClampsToFour(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodPost, "/api/generate", `{"prompt":"a cat","numImages":7}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "batch", body["mode"])
	assert.Equal(t, float64(4), body["count"])
	assert.Contains(t, body, "tookMs")

	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 4)
	ids := map[string]bool{}
	for _, item := range items {
		id, _ := item.(map[string]any)["id"].(string)
		assert.NotEmpty(t, id)
		ids[id] = true
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, int32(4), env.fake.created.Load())
}

func TestGenerate_TerminalUpstreamErrorIs502(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})
	env.fake.createFail = http.StatusUnprocessableEntity

	w := env.do(http.MethodPost, "/api/generate", `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(http.StatusUnprocessableEntity), body["status"])
	assert.Equal(t, map[string]any{"detail": "Invalid input: prompt too long"}, body["body"])
	assert.NotContains(t, w.Body.String(), testToken)
}

func TestGetPrediction(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodGet, "/api/predictions/pred-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"pred-1","status":"processing","output":null}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/predictions/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Not found."}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/predictions/plain", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream says hi", w.Body.String())
}

func TestGetPrediction_TransportFailureIs502(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	env := newTestEnv(t, envOptions{token: testToken, replicateURL: deadURL})

	w := env.do(http.MethodGet, "/api/predictions/pred-1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])
}

func TestGetPrediction_MissingToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(http.MethodGet, "/api/predictions/pred-1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestUpload_RoundTripThroughPublicURL(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken, verify: true})
	server := httptest.NewServer(env.router)
	defer server.Close()

	payload, _ := json.Marshal(map[string]string{
		"dataUrl": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes),
	})
	resp, err := http.Post(server.URL+"/api/upload", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		URL  string `json:"url"`
		Mime string `json:"mime"`
		Size int    `json:"size"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body.URL, server.URL+"/uploads/"), body.URL)
	assert.True(t, strings.HasSuffix(body.URL, ".png"))
	assert.Equal(t, "image/png", body.Mime)
	assert.Equal(t, len(pngBytes), body.Size)

	fileResp, err := http.Get(body.URL)
	require.NoError(t, err)
	defer fileResp.Body.Close()
	data, err := io.ReadAll(fileResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "public, max-age=31536000, immutable", fileResp.Header.Get("Cache-Control"))
}

func TestUpload_MalformedDataURL(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodPost, "/api/upload", `{"dataUrl":"data:image/png,AAAA"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodeBody(t, w)["error"])

	w = env.do(http.MethodPost, "/api/upload", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_UnreachablePublicURL(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	env := newTestEnv(t, envOptions{token: testToken, verify: true, publicBaseURL: deadURL})

	w := env.do(http.MethodPost, "/api/upload",
		`{"dataUrl":"data:image/png;base64,`+base64.StdEncoding.EncodeToString(pngBytes)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "saved but not reachable", decodeBody(t, w)["error"])
}

func TestUpload_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	big := strings.Repeat("A", 3<<20)
	w := env.do(http.MethodPost, "/api/upload", `{"dataUrl":"data:image/png;base64,`+big+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServeUpload_Missing(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodGet, "/uploads/0123456789abcdef0123456789abcdef.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestNoRoute_SPAFallback(t *testing.T) {
	env := newTestEnv(t, envOptions{token: testToken})

	w := env.do(http.MethodGet, "/gallery/42", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<html>app</html>")

	w = env.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = env.do(http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decodeBody(t, w)["error"])

	w = env.do(http.MethodPost, "/somewhere", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decodeBody(t, w)["error"])
}

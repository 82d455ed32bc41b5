package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragossa/tablescrub/pkg/jobs"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, maxUpload int64) http.Handler {
	t.Helper()
	dir := t.TempDir()
	store, err := jobs.NewStore(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc, err := jobs.NewService(store, filepath.Join(dir, "out"))
	require.NoError(t, err)
	return NewServer(svc, testSecret, maxUpload).Routes()
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testSecret)
	return req
}

// typedUploadRequest builds an upload whose file part carries partType and
// whose form carries the extra fields.
func typedUploadRequest(t *testing.T, filename, partType, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if partType != "" {
		hdr.Set("Content-Type", partType)
	}
	fw, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testSecret)
	return req
}

func authed(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, 1<<20)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "healthy", out["status"])
	assert.NotEmpty(t, out["timestamp"])
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestServer(t, 1<<20)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong key", "Bearer nope"},
		{"wrong scheme", "Basic " + testSecret},
		{"bare secret", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(h, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Forbidden", decode(t, rec)["error"])
		})
	}
}

func TestAuthMiddlewareEmptySecretRejectsAll(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := AuthMiddleware("")(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusForbidden, serve(h, req).Code)
}

func TestJobLifecycle(t *testing.T) {
	h := newTestServer(t, 1<<20)

	rec := serve(h, uploadRequest(t, "people.csv", "name,contact\nJohn Smith,call 5551234567\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id, _ := created["jobId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "completed", created["status"])
	assert.Equal(t, "/v1/jobs/"+id+"/output", created["downloadUrl"])
	assert.EqualValues(t, len("name,contact\nAnonymous,call XXXXXXXXXX\n"), created["outputSize"])

	rec = serve(h, authed(http.MethodGet, "/v1/jobs/"+id))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, "people.csv", status["originalName"])
	assert.Equal(t, "csv", status["format"])

	rec = serve(h, authed(http.MethodGet, "/v1/jobs/"+id+"/output"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), id+".csv")
	assert.Equal(t, "name,contact\nAnonymous,call XXXXXXXXXX\n", rec.Body.String())

	rec = serve(h, authed(http.MethodDelete, "/v1/jobs/"+id))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, authed(http.MethodGet, "/v1/jobs/"+id+"/output"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Output not found", decode(t, rec)["error"])

	rec = serve(h, authed(http.MethodGet, "/v1/jobs/"+id))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobCreateJSONWithCallerID(t *testing.T) {
	h := newTestServer(t, 1<<20)

	req := uploadRequest(t, "rows.json", `[{"contact":"a.b@x.org","n":1}]`)
	req.Header.Set(JobIDHeader, "job-7")
	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "job-7", decode(t, rec)["jobId"])

	rec = serve(h, authed(http.MethodGet, "/v1/jobs/job-7/output"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `[{"contact":"***@***.com","n":1}]`+"\n", rec.Body.String())

	req = uploadRequest(t, "rows.json", `[]`)
	req.Header.Set(JobIDHeader, "job-7")
	assert.Equal(t, http.StatusConflict, serve(h, req).Code)

	req = uploadRequest(t, "rows.json", `[]`)
	req.Header.Set(JobIDHeader, "../escape")
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)
}

func TestJobCreateProcessingError(t *testing.T) {
	h := newTestServer(t, 1<<20)

	rec := serve(h, uploadRequest(t, "broken.json", `{"a": [1, 2`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "failed", out["status"])
	assert.Equal(t, "Processing error", out["error"])
	details, _ := out["details"].(string)
	assert.True(t, strings.HasPrefix(details, "Processing error: invalid json input"), details)

	id, _ := out["jobId"].(string)
	rec = serve(h, authed(http.MethodGet, "/v1/jobs/"+id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["status"])
}

func TestJobCreateBadRequests(t *testing.T) {
	h := newTestServer(t, 1<<20)

	req := authed(http.MethodPost, "/v1/jobs")
	req.Body = http.NoBody
	assert.Equal(t, http.StatusBadRequest, serve(h, req).Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())
	req = httptest.NewRequest(http.MethodPost, "/v1/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decode(t, rec)["error"])
}

func TestJobCreateSync(t *testing.T) {
	h := newTestServer(t, 1<<20)

	req := typedUploadRequest(t, "people.csv", "text/csv", "name,id\nJane Doe,call 12345678901\n",
		map[string]string{SyncField: "true"})
	rec := serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "name,id\nAnonymous,call XXXXXXXXXX\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "attachment; filename=processed_people.csv", rec.Header().Get("Content-Disposition"))

	req = typedUploadRequest(t, "my rows.json", "application/json", `{"who":"Jane Doe"}`,
		map[string]string{SyncField: "true"})
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `[{"who":"Anonymous"}]`+"\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="processed_my rows.json"`, rec.Header().Get("Content-Disposition"))

	req = typedUploadRequest(t, "people.csv", "text/csv", "name\nJane Doe\n",
		map[string]string{SyncField: "false"})
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["status"])
}

func TestJobCreateSyncFailureStaysJSON(t *testing.T) {
	h := newTestServer(t, 1<<20)

	req := typedUploadRequest(t, "broken.json", "application/json", `[{"a":`,
		map[string]string{SyncField: "true"})
	rec := serve(h, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Processing error", decode(t, rec)["error"])
}

func TestJobCreateFileType(t *testing.T) {
	h := newTestServer(t, 1<<20)

	tests := []struct {
		name     string
		filename string
		partType string
		want     int
	}{
		{"csv type", "upload", "text/csv", http.StatusOK},
		{"json type with charset", "upload", "application/json; charset=utf-8", http.StatusOK},
		{"generic type with csv extension", "rows.CSV", "application/octet-stream", http.StatusOK},
		{"no type with json extension", "rows.json", "", http.StatusOK},
		{"image", "rows.csv", "image/png", http.StatusBadRequest},
		{"spreadsheet", "rows.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", http.StatusBadRequest},
		{"generic type without extension", "rows", "application/octet-stream", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, typedUploadRequest(t, tt.filename, tt.partType, "a\n1\n", nil))
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusBadRequest {
				assert.Equal(t, "Invalid file type. Only CSV and JSON are supported", decode(t, rec)["error"])
			}
		})
	}
}

func TestJobCreateTooLarge(t *testing.T) {
	h := newTestServer(t, 256)

	rec := serve(h, uploadRequest(t, "big.csv", "a\n"+strings.Repeat("x\n", 1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownJob(t *testing.T) {
	h := newTestServer(t, 1<<20)

	rec := serve(h, authed(http.MethodGet, "/v1/jobs/missing"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decode(t, rec)["error"])

	assert.Equal(t, http.StatusNoContent, serve(h, authed(http.MethodDelete, "/v1/jobs/missing")).Code)
}

func TestMetrics(t *testing.T) {
	h := newTestServer(t, 1<<20)

	require.Equal(t, http.StatusOK, serve(h, uploadRequest(t, "a.csv", "x\n1\n")).Code)
	require.Equal(t, http.StatusOK, serve(h, uploadRequest(t, "b.csv", "x\nJane Doe\n")).Code)
	require.Equal(t, http.StatusUnprocessableEntity, serve(h, uploadRequest(t, "c.json", "{")).Code)

	rec := serve(h, authed(http.MethodGet, "/v1/metrics"))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 3, out["totalJobs"])
	assert.EqualValues(t, 2, out["successfulJobs"])
	assert.EqualValues(t, 1, out["failedJobs"])
	assert.InDelta(t, 66.67, out["successRate"], 0.001)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, 1<<20)

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package clinical

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

func TestHTTPClient_Capabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/capabilities", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(DefaultCapabilities())
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL + "/api/", Token: "secret"})
	require.NoError(t, err)
	caps, err := c.Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Features.ImageAttachment)
	assert.Equal(t, 10, caps.Limits.MaxFilesPerBatch)
}

func TestHTTPClient_CommitSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/encounters/enc%201/attachments", r.URL.EscapedPath())
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var payload CommitRequest
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload")), &payload))
		assert.Equal(t, "enc 1", payload.EncounterID)
		require.Len(t, payload.Files, 2)
		assert.Equal(t, "key-a", payload.Files[0].IdempotencyKey)
		assert.Equal(t, "https://relay/b.jpg", payload.Files[1].SourceURL)

		f, hdr, err := r.FormFile("a")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("jpegbytes"), data)
		assert.Equal(t, "image-1.jpg", hdr.Filename)
		_, _, err = r.FormFile("b")
		assert.Error(t, err, "url-only files carry no part")

		_ = json.NewEncoder(w).Encode(CommitResponse{Files: []FileOutcome{
			{FileID: "a", Status: FileCommitted, DocumentReferenceID: "DocumentReference/1"},
			{FileID: "b", Status: FileError, Error: "unsupported"},
		}})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Commit(context.Background(), CommitRequest{
		EncounterID: "enc 1",
		Files: []CommitFile{
			{FileID: "a", FileName: "image-1.jpg", ContentType: "image/jpeg", Data: []byte("jpegbytes"), IdempotencyKey: "key-a"},
			{FileID: "b", FileName: "image-2.jpg", ContentType: "image/jpeg", SourceURL: "https://relay/b.jpg", IdempotencyKey: "key-b"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Files, 2)
	assert.Equal(t, FileCommitted, resp.Files[0].Status)
	assert.Equal(t, "unsupported", resp.Files[1].Error)
}

func TestHTTPClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Commit(context.Background(), CommitRequest{EncounterID: "e"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, se.Error(), "down for maintenance")
}

func TestHTTPClient_MobileEndpointsUseRelay(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/mobile-sessions":
			var req InitiateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "enc-1", req.EncounterID)
			_ = json.NewEncoder(w).Encode(InitiateResponse{Token: "tok", MobileUploadURL: "https://m/tok", TTLSeconds: 600})
		case "/v1/encounters/enc-1/mobile-images":
			assert.Equal(t, "data", r.URL.Query().Get("include"))
			_ = json.NewEncoder(w).Encode(map[string]any{"images": []model.MobileImage{{ID: "m1", Data: []byte{1, 2}}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer relay.Close()

	c, err := NewHTTPClient(HTTPOptions{BaseURL: "http://clinical.invalid", RelayURL: relay.URL})
	require.NoError(t, err)
	resp, err := c.InitiateMobileSession(context.Background(), InitiateRequest{EncounterID: "enc-1", PatientID: "p", FacilityID: "f"})
	require.NoError(t, err)
	assert.Equal(t, "tok", resp.Token)

	imgs, err := c.MobileImages(context.Background(), "enc-1", true)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, []byte{1, 2}, imgs[0].Data)
}

func TestNewHTTPClient_RequiresBase(t *testing.T) {
	_, err := NewHTTPClient(HTTPOptions{})
	assert.Error(t, err)
}

func TestLoadCapabilities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.yaml")
	fixture := `
features:
  image_attachment: true
  mobile_handoff: false
body_sites:
  - system: http://snomed.info/sct
    code: "14975008"
    display: Forearm
limits:
  max_file_bytes: 1048576
  max_files_per_batch: 3
  accepted_types: [image/jpeg]
inbox_recipients:
  - id: dr-lee
    name: Dr Lee
`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))
	caps, err := LoadCapabilities(path)
	require.NoError(t, err)
	assert.True(t, caps.Features.ImageAttachment)
	assert.False(t, caps.Features.MobileHandoff)
	assert.Equal(t, "14975008", caps.BodySites[0].Code)
	assert.Equal(t, 3, caps.Limits.MaxFilesPerBatch)
	assert.True(t, caps.Accepts("image/jpeg; q=1"))
	assert.False(t, caps.Accepts("image/png"))
	assert.True(t, caps.HasInboxRecipient("dr-lee"))

	_, err = LoadCapabilities(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

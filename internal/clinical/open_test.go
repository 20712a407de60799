package clinical

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
features:
  image_attachment: true
  mobile_handoff: false
body_sites:
  - {system: "http://snomed.info/sct", code: "56459004", display: "Foot"}
limits:
  max_files_per_batch: 3
  accepted_types: [image/jpeg]
inbox_recipients:
  - {id: triage, name: Triage}
`

func TestOpen_FakeFromFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	client, err := Open(HTTPOptions{}, path)
	require.NoError(t, err)
	require.IsType(t, &Fake{}, client)

	caps, err := client.Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Features.ImageAttachment)
	assert.False(t, caps.Features.MobileHandoff)
	require.Len(t, caps.BodySites, 1)
	assert.Equal(t, "Foot", caps.BodySites[0].Display)
	assert.Equal(t, 3, caps.Limits.MaxFilesPerBatch)
	assert.True(t, caps.HasInboxRecipient("triage"))
}

func TestOpen_Variants(t *testing.T) {
	client, err := Open(HTTPOptions{}, "")
	require.NoError(t, err)
	caps, err := client.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCapabilities(), *caps)

	client, err = Open(HTTPOptions{BaseURL: "https://ehr.example.test"}, "ignored.yaml")
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, client)

	_, err = Open(HTTPOptions{}, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

package offsite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutFileSignsRequest(t *testing.T) {
	payload := []byte("backup bytes")
	local := filepath.Join(t.TempDir(), "a.bak.zst")
	require.NoError(t, os.WriteFile(local, payload, 0o644))

	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "mounts", AccessKeyID: "AK", SecretAccessKey: "SK"},
		withClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)
	require.NoError(t, c.PutFile(context.Background(), "/backups/my file.bak.zst", local))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/mounts/backups/my%20file.bak.zst", got.URL.EscapedPath())
	assert.Equal(t, payload, body)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), got.Header.Get("x-amz-content-sha256"))
	assert.Equal(t, "20260501T120000Z", got.Header.Get("x-amz-date"))
	auth := got.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/20260501/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="), auth)
}

func TestPutFileReportsStatus(t *testing.T) {
	local := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	err = c.PutFile(context.Background(), "x", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(Credentials{Endpoint: "r2.example.com", Bucket: "b"})
	require.Error(t, err)
	c, err := NewClient(Credentials{Endpoint: "r2.example.com", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://r2.example.com", c.endpoint)
}

func TestCleanKey(t *testing.T) {
	for in, want := range map[string]string{
		"/audit/a.jsonl.zst": "audit/a.jsonl.zst",
		`backups\b.zst`:      "backups/b.zst",
		"a/./b/../c":         "a/c",
		"../etc/passwd":      "",
		"  ":                 "",
	} {
		assert.Equal(t, want, cleanKey(in), in)
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("flaky")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirrorUploadsRelativeToDataDir(t *testing.T) {
	dataDir := t.TempDir()
	p := filepath.Join(dataDir, "backups", "mounts.bak.zst")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("b"), 0o644))
	outside := filepath.Join(t.TempDir(), "elsewhere")
	require.NoError(t, os.WriteFile(outside, []byte("o"), 0o644))

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, dataDir, "/prod/", 1, 8, nil)
	m.backoff = time.Millisecond
	m.Enqueue(p)
	m.Enqueue(outside)
	m.Close()

	assert.Equal(t, []string{"prod/backups/mounts.bak.zst"}, up.keys)
	st := m.Stats()
	assert.Equal(t, uint64(2), st.Enqueued)
	assert.Equal(t, uint64(1), st.Uploaded)
	assert.Equal(t, uint64(1), st.Failed)
	assert.NotZero(t, st.LastSuccess)
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	assert.Equal(t, Stats{}, m.Stats())
}

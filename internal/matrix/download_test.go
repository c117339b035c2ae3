// ABOUTME: Tests for attachment downloads from the homeserver
// ABOUTME: Covers the size cap with and without a declared Content-Length

package matrix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/convertbot/internal/stage"
)

const testMedia = id.ContentURIString("mxc://example.org/abc")

// newMediaBridge points a bridge at a homeserver that serves body for every
// media download. When chunked is set the length is not declared up front.
func newMediaBridge(t *testing.T, body []byte, chunked bool, maxSize int64) *Bridge {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_matrix/client/v1/media/download/example.org/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/octet-stream")
		if chunked {
			half := len(body) / 2
			_, _ = w.Write(body[:half])
			w.(http.Flusher).Flush()
			_, _ = w.Write(body[half:])
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	b, err := NewBridge(Config{
		Homeserver:  srv.URL,
		UserID:      testBot,
		AccessToken: "token",
		MaxFileSize: maxSize,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.menus.close()
		b.seen.Close()
	})
	return b
}

func TestDownload_WithinLimit(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1024)
	b := newMediaBridge(t, data, false, 1024)

	rc, err := b.download(context.Background(), testMedia, nil)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDownload_DeclaredLengthOverLimit(t *testing.T) {
	b := newMediaBridge(t, bytes.Repeat([]byte("a"), 4096), false, 1024)

	_, err := b.download(context.Background(), testMedia, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrTooLarge))
}

func TestDownload_StreamOverLimit(t *testing.T) {
	b := newMediaBridge(t, bytes.Repeat([]byte("a"), 64*1024), true, 1024)

	rc, err := b.download(context.Background(), testMedia, nil)
	require.NoError(t, err)
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrTooLarge))
	assert.LessOrEqual(t, n, int64(1025))
}

func TestDownload_StagedStreamOverLimit(t *testing.T) {
	b := newMediaBridge(t, bytes.Repeat([]byte("a"), 64*1024), true, 1024)
	staging, err := stage.New(t.TempDir(), 0, nil)
	require.NoError(t, err)

	rc, err := b.download(context.Background(), testMedia, nil)
	require.NoError(t, err)
	defer rc.Close()

	_, err = staging.Stage("user", "big.pdf", rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrTooLarge))
}

func TestDownload_NoLimit(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 8192)
	b := newMediaBridge(t, data, true, 0)

	rc, err := b.download(context.Background(), testMedia, nil)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, got, len(data))
}

func TestCappedReader(t *testing.T) {
	r := &cappedReader{r: bytes.NewReader([]byte("12345")), remaining: 5}
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(got))

	r = &cappedReader{r: bytes.NewReader([]byte("123456")), remaining: 5}
	_, err = io.ReadAll(r)
	assert.True(t, errors.Is(err, stage.ErrTooLarge))
}

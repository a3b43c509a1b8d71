package downstream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baechuer/kimg-panel/internal/domain"
	"github.com/baechuer/kimg-panel/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "d41d8cd98f00b204e9800998ecf8427e"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestClient(t *testing.T, h http.Handler) *KimgClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := ClientConfig{ReadTimeout: time.Second, WriteTimeout: time.Second, MaxBodySize: 1 << 20}
	return NewKimgClient(srv.URL, NewClient(cfg))
}

func TestKimgClient_Upload(t *testing.T) {
	payload := pngBytes(t, 4, 3)

	k := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/image", r.URL.Path)
		assert.Equal(t, "req-up", r.Header.Get(middleware.HeaderXRequestID))

		f, hdr, err := r.FormFile(FormField)
		require.NoError(t, err)
		got, _ := io.ReadAll(f)
		assert.Equal(t, payload, got)
		assert.Equal(t, "cat.png", hdr.Filename)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"md5":"` + testHash + `","url":"http://kimg/image/` + testHash + `","size":120,"width":4,"height":3,"format":"png"}`))
	}))

	ctx := middleware.WithRequestID(context.Background(), "req-up")
	res, err := k.Upload(ctx, "/tmp/cat.png", payload)
	require.NoError(t, err)
	assert.Equal(t, testHash, res.Hash)
	assert.Equal(t, domain.Metadata{Size: 120, Width: 4, Height: 3, Format: "png"}, res.Metadata)
}

func TestKimgClient_UploadErrors(t *testing.T) {
	t.Run("Empty payload", func(t *testing.T) {
		k := newTestClient(t, http.NotFoundHandler())
		_, err := k.Upload(context.Background(), "x.png", nil)
		assert.ErrorIs(t, err, domain.ErrUploadFailed)
	})

	t.Run("Plain text rejection", func(t *testing.T) {
		k := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		}))
		_, err := k.Upload(context.Background(), "x.txt", []byte("hello"))

		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusUnsupportedMediaType, se.StatusCode)
		assert.Equal(t, "Unsupported Media Type", se.Message)
	})

	t.Run("Bad hash in response", func(t *testing.T) {
		k := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"md5":"short"}`))
		}))
		_, err := k.Upload(context.Background(), "x.png", []byte("data"))
		assert.ErrorIs(t, err, ErrBadResponse)
	})
}

func TestKimgClient_Render(t *testing.T) {
	body := pngBytes(t, 8, 6)
	var gotQuery string

	k := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image/" + testHash:
			gotQuery = r.URL.RawQuery
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
		case "/image/" + "0123456789abcdef0123456789abcdef":
			w.Write([]byte("not an image at all"))
		default:
			http.NotFound(w, r)
		}
	}))

	t.Run("Decodes header", func(t *testing.T) {
		r, err := k.Render(context.Background(), testHash, "q=75&s=1&sw=300")
		require.NoError(t, err)
		assert.Equal(t, "q=75&s=1&sw=300", gotQuery)
		assert.Equal(t, "png", r.Format)
		assert.Equal(t, 8, r.Width)
		assert.Equal(t, 6, r.Height)
		assert.Equal(t, "image/png", r.ContentType)
		assert.Equal(t, body, r.Body)
	})

	t.Run("Undecodable body", func(t *testing.T) {
		_, err := k.Render(context.Background(), "0123456789abcdef0123456789abcdef", "")
		assert.ErrorIs(t, err, ErrUndecodable)
	})

	t.Run("Missing image", func(t *testing.T) {
		_, err := k.Render(context.Background(), "ffffffffffffffffffffffffffffffff", OriginQuery)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestKimgClient_InfoAndDelete(t *testing.T) {
	k := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/info/"+testHash:
			assert.Equal(t, "origin=1", r.URL.RawQuery)
			w.Write([]byte(`{"md5":"` + testHash + `","size":2048,"width":640,"height":480,"format":"jpeg"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/image/"+testHash:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))

	md, err := k.Info(context.Background(), testHash, OriginQuery)
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{Size: 2048, Width: 640, Height: 480, Format: "jpeg"}, md)

	assert.NoError(t, k.Delete(context.Background(), testHash))

	err = k.Delete(context.Background(), "ffffffffffffffffffffffffffffffff")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	k := NewKimgClient(srv.URL, NewClient(ClientConfig{ReadTimeout: 20 * time.Millisecond, WriteTimeout: time.Second}))
	_, err := k.Info(context.Background(), testHash, "")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	k := NewKimgClient(url, NewClient(DefaultClientConfig()))
	err := k.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKimgClient_ImageURL(t *testing.T) {
	k := NewKimgClient("http://kimg:8080", NewClient(DefaultClientConfig()))
	assert.Equal(t, "http://kimg:8080/image/"+testHash+"?origin=1", k.ImageURL(testHash, OriginQuery))
	assert.Equal(t, "http://kimg:8080/image/"+testHash, k.ImageURL(testHash, ""))
}

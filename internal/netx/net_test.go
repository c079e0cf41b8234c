package netx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPut(t *testing.T) {
	file := []byte("hello, s3")

	t.Run("success with signed headers and progress", func(t *testing.T) {
		var gotBody []byte
		var gotCT, gotMeta, gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotMeta = r.Header.Get("X-Amz-Meta-Caption")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		header := http.Header{}
		header.Set("Content-Type", "image/png")
		header.Set("X-Amz-Meta-Caption", "sunset")
		header.Set("Host", "ignored")

		var last, total atomic.Int64
		err := Put(context.Background(), ts.Client(), ts.URL+"/obj?X-Amz-Signature=abc", header,
			bytes.NewReader(file), int64(len(file)), func(sent, tot int64) {
				assert.GreaterOrEqual(t, sent, last.Load())
				last.Store(sent)
				total.Store(tot)
			})
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "image/png", gotCT)
		assert.Equal(t, "sunset", gotMeta)
		assert.Equal(t, file, gotBody)
		assert.Equal(t, int64(len(file)), last.Load())
		assert.Equal(t, int64(len(file)), total.Load())
	})

	t.Run("default content type", func(t *testing.T) {
		var gotCT string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotCT = r.Header.Get("Content-Type")
		}))
		defer ts.Close()

		require.NoError(t, Put(context.Background(), nil, ts.URL, nil, bytes.NewReader(file), int64(len(file)), nil))
		assert.Equal(t, "application/octet-stream", gotCT)
	})

	t.Run("non-2xx becomes StatusError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("slow down"))
		}))
		defer ts.Close()

		err := Put(context.Background(), ts.Client(), ts.URL, nil, bytes.NewReader(file), int64(len(file)), nil)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusServiceUnavailable, se.HTTPStatusCode())
		assert.Contains(t, se.Error(), "slow down")
	})

	t.Run("canceled context", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Put(ctx, ts.Client(), ts.URL, nil, bytes.NewReader(file), int64(len(file)), nil)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bad url", func(t *testing.T) {
		err := Put(context.Background(), nil, "://bad", nil, bytes.NewReader(file), 1, nil)
		require.Error(t, err)
	})
}

func TestGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("content"))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	n, err := Get(context.Background(), ts.Client(), ts.URL+"/obj", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "content", buf.String())

	_, err = Get(context.Background(), ts.Client(), ts.URL+"/missing", &buf)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

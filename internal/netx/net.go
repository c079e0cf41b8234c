// Package netx transfers object bodies to and from presigned URLs.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ProgressFunc receives the number of bytes sent so far and the total.
type ProgressFunc func(sent, total int64)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %d %s; body: %s", e.Method, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Put uploads size bytes of body to url. header carries the headers the URL
// was signed with. progress may be nil.
func Put(ctx context.Context, client *http.Client, url string, header http.Header, body io.Reader, size int64, progress ProgressFunc) error {
	if client == nil {
		client = http.DefaultClient
	}
	if progress != nil {
		body = &progressReader{r: body, total: size, fn: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	// the signed host header is set by the transport
	req.Header.Del("Host")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodPut, resp)
	}
	return nil
}

// Get streams the body served at url into w.
func Get(ctx context.Context, client *http.Client, url string, w io.Writer) (int64, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, statusError(http.MethodGet, resp)
	}
	return io.Copy(w, resp.Body)
}

func statusError(method string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Method: method, StatusCode: resp.StatusCode, Body: string(b)}
}

type progressReader struct {
	r     io.Reader
	total int64
	fn    ProgressFunc

	mu   sync.Mutex
	sent int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.sent += int64(n)
		sent := p.sent
		p.mu.Unlock()
		p.fn(sent, p.total)
	}
	return n, err
}

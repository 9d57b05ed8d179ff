// internal/vision/transport.go
package vision

import (
	"context"
	"net/http"
	"sync"
)

// responseMeta records headers the API client library does not surface on
// its error values.
type responseMeta struct {
	mu         sync.Mutex
	retryAfter string
	requestID  string
}

func (m *responseMeta) capture(h http.Header) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAfter = h.Get("Retry-After")
	m.requestID = h.Get("X-Request-Id")
}

func (m *responseMeta) get() (retryAfter, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryAfter, m.requestID
}

type metaKey struct{}

func withResponseMeta(ctx context.Context) (context.Context, *responseMeta) {
	m := &responseMeta{}
	return context.WithValue(ctx, metaKey{}, m), m
}

// headerDoer is the HTTPDoer handed to the API client. It copies response
// headers into the request's responseMeta, if any.
type headerDoer struct {
	client *http.Client
}

func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if resp != nil {
		if m, ok := req.Context().Value(metaKey{}).(*responseMeta); ok {
			m.capture(resp.Header)
		}
	}
	return resp, err
}

package delivery

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"decline-notifier/internal/classify"
	"decline-notifier/internal/request"
)

// Transport performs exactly one outbound call. Implementations report
// failures through the Result, never by panicking or returning partially.
type Transport interface {
	Do(ctx context.Context, w request.Wire) classify.Result
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, w request.Wire) classify.Result

func (f TransportFunc) Do(ctx context.Context, w request.Wire) classify.Result {
	return f(ctx, w)
}

// Timeouts bound a single attempt.
type Timeouts struct {
	Connect time.Duration `mapstructure:"connect"`
	Read    time.Duration `mapstructure:"read"`
	Total   time.Duration `mapstructure:"total"`
}

// DefaultTimeouts keeps a hung attempt from holding a worker for more than 8s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 5 * time.Second,
		Read:    5 * time.Second,
		Total:   8 * time.Second,
	}
}

// maxDrain caps how much of a response body is read before closing.
const maxDrain = 4096

// HTTPTransport is a Transport backed by net/http.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds a client honouring t. Zero fields fall back to
// DefaultTimeouts.
func NewHTTPTransport(t Timeouts) *HTTPTransport {
	def := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = def.Connect
	}
	if t.Read <= 0 {
		t.Read = def.Read
	}
	if t.Total <= 0 {
		t.Total = def.Total
	}

	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	tr.TLSHandshakeTimeout = t.Connect
	tr.ResponseHeaderTimeout = t.Read

	return &HTTPTransport{
		Client: &http.Client{
			Timeout:   t.Total,
			Transport: tr,
		},
	}
}

func (h *HTTPTransport) Do(ctx context.Context, w request.Wire) classify.Result {
	var body io.Reader
	if w.HasBody() {
		body = bytes.NewReader(w.Body)
	}
	req, err := http.NewRequestWithContext(ctx, w.Method, w.URL, body)
	if err != nil {
		return classify.Result{Err: errors.Wrap(err, "create request")}
	}
	if w.HasBody() {
		req.Header.Set("Content-Type", w.ContentType)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return classify.Result{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)

	return classify.Result{StatusCode: resp.StatusCode}
}

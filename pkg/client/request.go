package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/adfetch/pkg/fetchstate"
)

// Request is one unit of outbound work. It is consumed exactly once by the
// parallel caller; continuations are new Requests built by Next.
type Request struct {
	// ID correlates log lines and results. Optional.
	ID string

	Method string

	// URL is absolute or relative to Config.BaseURL.
	URL string

	// Token is the opaque bearer token sent in the Authorization header.
	Token string

	Body        []byte
	ContentType string

	// Accept overrides Config.Accept for this request.
	Accept string

	Query url.Values

	// NextPageToken is sent as Config.PageTokenParam when non-empty.
	NextPageToken string

	// PageIndex is 0 for the first page and incremented for every continuation.
	PageIndex int

	// Report is the logical report this request belongs to.
	Report *fetchstate.ReportItem
}

// Next returns the continuation of r for the given page token.
func (r *Request) Next(token string) *Request {
	next := *r
	next.NextPageToken = token
	next.PageIndex = r.PageIndex + 1
	if r.Query != nil {
		next.Query = cloneValues(r.Query)
	}
	return &next
}

// WithURL returns the continuation of r that targets an absolute next-page URL.
func (r *Request) WithURL(nextURL string) *Request {
	next := r.Next("")
	next.URL = nextURL
	next.Query = nil
	return next
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// Response is the envelope of a successful request. The payload is kept
// next to the transport metadata instead of being decoded into a typed value.
type Response struct {
	Request    *Request
	Payload    []byte
	Headers    http.Header
	StatusCode int

	// Bytes is the body size; for streamed responses Payload stays empty.
	Bytes int64

	CompletedAt time.Time
}

// StreamFunc receives the raw body of a successful response instead of it
// being buffered in memory. It returns the number of bytes consumed.
type StreamFunc func(ctx context.Context, req *Request, body io.Reader) (int64, error)

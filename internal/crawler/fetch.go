package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

const maxErrorBodyBytes = 256

type requestCounterKey struct{}

// WithRequestCounter returns a context whose FetchJSON calls are counted.
func WithRequestCounter(ctx context.Context) (context.Context, *atomic.Int64) {
	counter := &atomic.Int64{}
	return context.WithValue(ctx, requestCounterKey{}, counter), counter
}

// FetchJSON performs one page request and decodes the body into out.
// Network failures and HTTP status >= 400 become transport faults; a body that
// does not match out becomes a decode fault.
func FetchJSON(
	ctx context.Context,
	fetcher Fetcher,
	source Source,
	op string,
	request FetchRequest,
	out any,
) error {
	if fetcher == nil {
		return NewFault(ErrConfig, source, op, fmt.Errorf("no fetcher configured"))
	}
	if counter, ok := ctx.Value(requestCounterKey{}).(*atomic.Int64); ok {
		counter.Add(1)
	}
	resp, err := fetcher.Fetch(ctx, request)
	if err != nil {
		fault := NewFault(ErrTransport, source, op, err)
		fault.URL = redactURL(request.URL)
		fault.StatusCode = resp.StatusCode
		return fault
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body := resp.Body
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		fault := NewFault(ErrTransport, source, op, fmt.Errorf("response body: %s", body))
		fault.URL = redactURL(request.URL)
		fault.StatusCode = resp.StatusCode
		return fault
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		fault := NewFault(ErrDecode, source, op, err)
		fault.URL = redactURL(request.URL)
		return fault
	}
	return nil
}

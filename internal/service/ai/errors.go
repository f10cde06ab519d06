package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

// Reason is the closed set of upstream failure kinds the chat layer distinguishes.
type Reason string

const (
	ReasonTimeout Reason = "timeout"
	ReasonAuth    Reason = "auth"
	ReasonOther   Reason = "other"
)

// InvalidAPIKeyDetail is forwarded to callers when the upstream rejects the credential.
const InvalidAPIKeyDetail = "Invalid API key"

// UpstreamError is a classified failure from the language-model provider.
// Detail is caller-safe text; Err is the raw cause.
type UpstreamError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("upstream %s: %v", e.Reason, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary provider error onto an UpstreamError. It inspects
// error types and HTTP status codes only, never message text.
func Classify(err error) *UpstreamError {
	if err == nil {
		return nil
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Reason: ReasonTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Reason: ReasonTimeout, Err: err}
	}

	if reason, ok := reasonForStatus(arkStatus(err)); ok {
		upErr := &UpstreamError{Reason: reason, Err: err}
		if reason == ReasonAuth {
			upErr.Detail = InvalidAPIKeyDetail
		}
		return upErr
	}

	return &UpstreamError{Reason: ReasonOther, Err: err}
}

func arkStatus(err error) int {
	var apiErr *arkmodel.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *arkmodel.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func reasonForStatus(code int) (Reason, bool) {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuth, true
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ReasonTimeout, true
	default:
		return "", false
	}
}

// callRecorder keeps what the HTTP layer saw during one model call. Provider
// SDKs flatten transport errors and status codes into plain strings, so the
// recorder is the only typed trace left for Classify.
type callRecorder struct {
	mu           sync.Mutex
	status       int
	transportErr error
}

type callRecorderKey struct{}

func withCallRecorder(ctx context.Context) (context.Context, *callRecorder) {
	rec := &callRecorder{}
	return context.WithValue(ctx, callRecorderKey{}, rec), rec
}

func callRecorderFrom(ctx context.Context) *callRecorder {
	rec, _ := ctx.Value(callRecorderKey{}).(*callRecorder)
	return rec
}

func (r *callRecorder) record(status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.transportErr = err
}

// classify builds an UpstreamError from the recorded status or transport
// error, falling back to Classify(err) when neither says anything.
func (r *callRecorder) classify(err error) *UpstreamError {
	r.mu.Lock()
	status, transportErr := r.status, r.transportErr
	r.mu.Unlock()

	if reason, ok := reasonForStatus(status); ok {
		upErr := &UpstreamError{Reason: reason, Err: err}
		if reason == ReasonAuth {
			upErr.Detail = InvalidAPIKeyDetail
		}
		return upErr
	}
	if transportErr != nil {
		if upErr := Classify(transportErr); upErr.Reason != ReasonOther {
			return &UpstreamError{Reason: upErr.Reason, Detail: upErr.Detail, Err: fmt.Errorf("%w (transport: %v)", err, transportErr)}
		}
	}
	return Classify(err)
}

// statusTransport records each response status, or the transport error, on
// the call recorder carried by the request context. Responses pass through
// unchanged.
type statusTransport struct {
	base http.RoundTripper
}

func newStatusTransport(base http.RoundTripper) *statusTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &statusTransport{base: base}
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if rec := callRecorderFrom(req.Context()); rec != nil {
		if err != nil {
			rec.record(0, err)
		} else {
			rec.record(resp.StatusCode, nil)
		}
	}
	return resp, err
}

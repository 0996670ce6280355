package timing

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
)

// Transport instruments every request passing through it. When the request
// context already carries a CallTrace (see WithCall) that trace is used,
// otherwise a fresh one is created and written to Log.
type Transport struct {
	Base http.RoundTripper
	Log  *EventLog
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	call := CallFrom(req.Context())
	if call == nil {
		call = NewCallTrace(t.Log, req.Method+" "+req.URL.String())
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), call.ClientTrace()))

	resp, err := base.RoundTrip(req)
	if err != nil {
		at := call.Mark(CallFailed)
		call.log.Addf(at, "%s error: %v", call.label, err)
		return nil, err
	}

	at := call.Mark(ResponseHeadersEnd)
	call.ScanHeaders(at, resp.Header)
	resp.Body = &tracedBody{ReadCloser: resp.Body, call: call}
	return resp, nil
}

// tracedBody marks the body phases and the end of the call.
type tracedBody struct {
	io.ReadCloser
	call      *CallTrace
	startOnce sync.Once
	endOnce   sync.Once
}

func (b *tracedBody) Read(p []byte) (int, error) {
	b.startOnce.Do(func() { b.call.Mark(ResponseBodyStart) })
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.endOnce.Do(func() { b.call.Mark(ResponseBodyEnd) })
	}
	return n, err
}

func (b *tracedBody) Close() error {
	b.endOnce.Do(func() { b.call.Mark(ResponseBodyEnd) })
	err := b.ReadCloser.Close()
	b.call.Mark(CallEnd)
	return err
}

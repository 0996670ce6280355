package timing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEventsSortedByTimestamp(t *testing.T) {
	l := NewEventLog()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Add(base.Add(20*time.Millisecond), "third")
	l.Add(base, "first")
	l.Add(base.Add(10*time.Millisecond), "second a")
	l.Add(base.Add(10*time.Millisecond), "second b")

	var got []string
	for _, ev := range l.Events() {
		got = append(got, ev.Message)
	}
	if strings.Join(got, ",") != "first,second a,second b,third" {
		t.Errorf("order = %v", got)
	}
	if l.Len() != 4 {
		t.Errorf("Len = %d", l.Len())
	}

	want := "[2024-03-01T12:00:00.000Z] first\n"
	if tl := l.Timeline(); !strings.HasPrefix(tl, want) || !strings.HasSuffix(tl, "third\n") {
		t.Errorf("timeline = %q", tl)
	}
}

func TestEmptyTimeline(t *testing.T) {
	if tl := NewEventLog().Timeline(); tl != "" {
		t.Errorf("timeline = %q, want empty", tl)
	}
}

func TestEventLine(t *testing.T) {
	ev := Event{At: time.Date(2024, 1, 2, 3, 4, 5, 678e6, time.UTC).UnixMilli(), Message: "dns start"}
	if got := ev.Line(); got != "[2024-01-02T03:04:05.678Z] dns start" {
		t.Errorf("Line = %q", got)
	}
}

func TestSafeRecoversPanic(t *testing.T) {
	l := NewEventLog()
	ok := Safe(l, "probe", func() { panic("bad trace") })
	if ok {
		t.Error("Safe reported success for a panicking func")
	}
	lines := l.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "instrumentation error in probe: bad trace") {
		t.Errorf("lines = %v", lines)
	}
	if !Safe(nil, "quiet", func() {}) {
		t.Error("Safe reported failure for a normal func")
	}
}

func TestAddNeverPanics(t *testing.T) {
	var nilLog *EventLog
	nilLog.Add(time.Now(), "ignored")
	nilLog.Now("ignored %d", 1)

	l := NewEventLog()
	calls := 0
	l.OnAppend(func(Event) {
		calls++
		panic("listener")
	})
	l.Add(time.Now(), "kept")
	if l.Len() != 1 || calls != 1 {
		t.Errorf("len = %d calls = %d", l.Len(), calls)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := NewEventLog()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Now("worker %d event %d", i, j)
			}
		}(i)
	}
	wg.Wait()
	if l.Len() != 400 {
		t.Errorf("Len = %d, want 400", l.Len())
	}
	events := l.Events()
	for i := 1; i < len(events); i++ {
		if events[i].At < events[i-1].At {
			t.Fatalf("events out of order at %d", i)
		}
	}
}

func TestPhaseMillis(t *testing.T) {
	ms := int64(time.Millisecond)
	tests := []struct {
		name       string
		start, end int64
		want       *int64
	}{
		{"missing start", 0, 5 * ms, nil},
		{"missing end", 5 * ms, 0, nil},
		{"end before start", 9 * ms, 5 * ms, nil},
		{"valid", 5 * ms, 12 * ms, int64p(7)},
		{"zero length", 5 * ms, 5 * ms, int64p(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PhaseMillis(tt.start, tt.end)
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("PhaseMillis = %v, want %v", deref(got), deref(tt.want))
			}
		})
	}
}

func TestMarkAtKeepsFirstStartAndLastEnd(t *testing.T) {
	c := NewCallTrace(NewEventLog(), "GET /")
	t1 := time.Unix(100, 0)
	t2 := time.Unix(101, 0)
	c.MarkAt(DNSStart, t1)
	c.MarkAt(DNSStart, t2)
	c.MarkAt(DNSEnd, t1)
	c.MarkAt(DNSEnd, t2)

	if c.Stamp(DNSStart) != t1.UnixNano() {
		t.Errorf("start = %d, want first mark", c.Stamp(DNSStart))
	}
	if c.Stamp(DNSEnd) != t2.UnixNano() {
		t.Errorf("end = %d, want last mark", c.Stamp(DNSEnd))
	}
	if m := c.Metrics(); m.DNSMs == nil || *m.DNSMs != 1000 {
		t.Errorf("dns = %v", deref(m.DNSMs))
	}
	if c.Stamp(Phase(-1)) != 0 || Phase(99).String() != "unknown" {
		t.Error("out of range phase not ignored")
	}
}

func TestScanHeadersUsesArrivalTimestamp(t *testing.T) {
	l := NewEventLog()
	c := NewCallTrace(l, "GET /")
	at := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	h := http.Header{}
	h.Set("CF-Ray", "abc")

	signals := c.ScanHeaders(at, h)
	if len(signals) != 1 || len(c.HeaderSignals()) != 1 {
		t.Fatalf("signals = %v", signals)
	}
	events := l.Events()
	if len(events) != 1 || events[0].At != at.UnixMilli() || !strings.Contains(events[0].Message, "cloudflare") {
		t.Errorf("events = %+v", events)
	}
}

func TestTransportRecordsPlaintextCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sucuri-Block", "1")
		io.WriteString(w, "hello")
	}))
	defer srv.Close()

	l := NewEventLog()
	call := NewCallTrace(l, "probe")
	client := &http.Client{Transport: &Transport{Log: l}}
	req, _ := http.NewRequestWithContext(WithCall(context.Background(), call), http.MethodGet, srv.URL, nil)
	if CallFrom(req.Context()) != call {
		t.Fatal("call not attached to context")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	m := call.Metrics()
	if m.SSLMs != nil {
		t.Errorf("tls reported on a plaintext call: %d", *m.SSLMs)
	}
	if m.DNSMs != nil {
		t.Errorf("dns reported for an IP literal: %d", *m.DNSMs)
	}
	if m.TCPMs == nil || m.TTFBMs == nil {
		t.Errorf("metrics = %+v", m)
	}
	if call.Stamp(CallEnd) == 0 || call.Stamp(ResponseBodyEnd) == 0 {
		t.Error("body phases not recorded")
	}
	timeline := l.Timeline()
	for _, want := range []string{"probe connect start", "probe response headers end", "probe call end", "sucuri"} {
		if !strings.Contains(timeline, want) {
			t.Errorf("timeline missing %q:\n%s", want, timeline)
		}
	}
}

func TestTransportRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l := NewEventLog()
	client := &http.Client{Transport: &Transport{Log: l}}
	if _, err := client.Get(url); err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(l.Timeline(), "call failed") {
		t.Errorf("timeline = %s", l.Timeline())
	}
}

func int64p(v int64) *int64 { return &v }

func deref(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

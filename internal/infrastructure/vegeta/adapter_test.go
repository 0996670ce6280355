package vegeta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

func TestAttackCollectsSamples(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Probe") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if atomic.AddInt32(&hits, 1)%2 == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	target := probe.RateTarget{Method: http.MethodGet, URL: srv.URL, Header: http.Header{"X-Probe": []string{"1"}}}
	samples, err := NewVegetaAdapter().Attack(context.Background(), target, 20, 500*time.Millisecond, 2, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) == 0 {
		t.Fatal("no samples collected")
	}
	codes := map[int]int{}
	for _, s := range samples {
		codes[s.Code]++
	}
	if codes[http.StatusBadRequest] != 0 {
		t.Errorf("header not forwarded: %v", codes)
	}
	if codes[http.StatusOK] == 0 || codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("codes = %v", codes)
	}
}

func TestAttackStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewVegetaAdapter().Attack(ctx, probe.RateTarget{Method: http.MethodGet, URL: srv.URL}, 10, 10*time.Second, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("attack ran %s after cancel", elapsed)
	}
}

func TestAttackRejectsBadRate(t *testing.T) {
	if _, err := NewVegetaAdapter().Attack(context.Background(), probe.RateTarget{URL: "http://a.test"}, 0, time.Second, 1, nil); err == nil {
		t.Error("expected error for zero rate")
	}
}

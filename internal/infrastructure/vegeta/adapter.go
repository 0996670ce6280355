// internal/infrastructure/vegeta/adapter.go
package vegeta

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	lib "github.com/tsenart/vegeta/v12/lib"

	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

// VegetaAdapter implements probe.RateAttacker on top of the vegeta attacker.
type VegetaAdapter struct{}

// NewVegetaAdapter creates a new Vegeta adapter.
func NewVegetaAdapter() *VegetaAdapter {
	return &VegetaAdapter{}
}

// Attack replays target at rps for duration through client. Cancelling ctx
// stops the attack; the samples collected so far are returned.
func (va *VegetaAdapter) Attack(ctx context.Context, target probe.RateTarget, rps int, duration time.Duration, workers int, client *http.Client) ([]probe.RateSample, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rate per second must be greater than 0")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if workers < 1 {
		workers = 1
	}

	header := target.Header
	if header == nil {
		header = make(http.Header)
	}
	targeter := lib.NewStaticTargeter(lib.Target{
		Method: target.Method,
		URL:    target.URL,
		Body:   target.Body,
		Header: header,
	})

	opts := []func(*lib.Attacker){
		lib.Workers(uint64(workers)),
		lib.MaxWorkers(uint64(workers)),
	}
	if client != nil {
		opts = append(opts, lib.Client(client))
	}
	attacker := lib.NewAttacker(opts...)

	rate := lib.Rate{Freq: rps, Per: time.Second}
	log.Printf("Starting Vegeta attack: rate=%v, duration=%v, workers=%d, target=%s %s", rate, duration, workers, target.Method, target.URL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			attacker.Stop()
		case <-stop:
		}
	}()

	var m lib.Metrics
	samples := make([]probe.RateSample, 0, rps*int(duration/time.Second+1))
	for res := range attacker.Attack(targeter, rate, duration, "defense-probe") {
		m.Add(res)
		samples = append(samples, probe.RateSample{
			Code:    int(res.Code),
			Latency: res.Latency,
			Error:   res.Error,
		})
	}
	m.Close()
	log.Printf("Vegeta attack completed: requests=%d success=%.2f mean=%s p95=%s", m.Requests, m.Success, m.Latencies.Mean, m.Latencies.P95)
	return samples, nil
}

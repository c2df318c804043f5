// Package heartbeat probes every cached endpoint periodically and keeps
// the latest round trip of each in a HealthTable.
package heartbeat

import (
	"sort"
	"time"

	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/sasha-s/go-deadlock"
)

// Sample is one endpoint's latest round trip
type Sample struct {
	Endpoint rpccore.Endpoint
	Latency  time.Duration
}

// HealthTable is rebuilt each detector cycle
type HealthTable struct {
	lock    deadlock.RWMutex
	latency map[rpccore.Endpoint]time.Duration
}

func NewHealthTable() *HealthTable {
	return &HealthTable{latency: make(map[rpccore.Endpoint]time.Duration)}
}

func (h *HealthTable) Reset() {
	h.lock.Lock()
	h.latency = make(map[rpccore.Endpoint]time.Duration)
	h.lock.Unlock()
}

func (h *HealthTable) Record(ep rpccore.Endpoint, rtt time.Duration) {
	h.lock.Lock()
	h.latency[ep] = rtt
	h.lock.Unlock()
}

func (h *HealthTable) Remove(ep rpccore.Endpoint) {
	h.lock.Lock()
	delete(h.latency, ep)
	h.lock.Unlock()
}

func (h *HealthTable) Latency(ep rpccore.Endpoint) (time.Duration, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	l, ok := h.latency[ep]
	return l, ok
}

// Fastest returns the sampled candidate with the lowest latency. Ties go
// to the earlier candidate.
func (h *HealthTable) Fastest(candidates []rpccore.Endpoint) (rpccore.Endpoint, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	var best rpccore.Endpoint
	var bestLatency time.Duration
	found := false
	for _, c := range candidates {
		l, ok := h.latency[c]
		if ok && (!found || l < bestLatency) {
			best, bestLatency, found = c, l, true
		}
	}
	return best, found
}

// Snapshot lists the samples ordered by latency
func (h *HealthTable) Snapshot() []Sample {
	h.lock.RLock()
	samples := make([]Sample, 0, len(h.latency))
	for ep, l := range h.latency {
		samples = append(samples, Sample{Endpoint: ep, Latency: l})
	}
	h.lock.RUnlock()
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Latency != samples[j].Latency {
			return samples[i].Latency < samples[j].Latency
		}
		a, b := samples[i].Endpoint, samples[j].Endpoint
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		return a.Port < b.Port
	})
	return samples
}

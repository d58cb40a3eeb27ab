// Copyright 2026 The powchain Authors
// This file is part of the powchain library.
//
// The powchain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The powchain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the powchain library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// startMetricsExporter mirrors klaytn's cmd/kcn/main.go Before hook
// ("Enabling Prometheus Exporter"): it bridges every counter and gauge
// registered in the rcrowley go-metrics default registry (the Chain
// Engine's persistence meters, the Miner's hashrate gauge, ...) onto
// prometheus gauges served at /metrics, polling on a fixed interval
// since rcrowley's registry has no push/subscribe hook.
func startMetricsExporter(port int) {
	bridge := newMetricsBridge()
	go bridge.pollForever(3 * time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Int("port", port).Msg("metrics exporter failed to start")
		}
	}()
}

type metricsBridge struct {
	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

func newMetricsBridge() *metricsBridge {
	return &metricsBridge{gauges: make(map[string]prometheus.Gauge)}
}

func (b *metricsBridge) pollForever(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		b.poll()
	}
}

func (b *metricsBridge) poll() {
	metrics.DefaultRegistry.Each(func(name string, i any) {
		value, ok := sampleValue(i)
		if !ok {
			return
		}
		b.gaugeFor(name).Set(value)
	})
}

func (b *metricsBridge) gaugeFor(name string) prometheus.Gauge {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "powchain_" + sanitizeMetricName(name),
		Help: "bridged from rcrowley go-metrics: " + name,
	})
	prometheus.MustRegister(g)
	b.gauges[name] = g
	return g
}

// sampleValue extracts a single float64 reading from whichever
// go-metrics type i is; unrecognized types are skipped.
func sampleValue(i any) (float64, bool) {
	switch m := i.(type) {
	case metrics.Counter:
		return float64(m.Count()), true
	case metrics.Gauge:
		return float64(m.Value()), true
	case metrics.GaugeFloat64:
		return m.Value(), true
	case metrics.Meter:
		return m.Rate1(), true
	default:
		return 0, false
	}
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	backendRequests  atomic.Int64
	backendFailures  atomic.Int64
	decodeFailures   atomic.Int64
	exportsGenerated atomic.Int64
	analysesSubmit   atomic.Int64
	eventsPublished  atomic.Int64
	eventsFailed     atomic.Int64
	rateLimited      atomic.Int64
)

func IncBackendRequests() { backendRequests.Add(1) }
func IncBackendFailures() { backendFailures.Add(1) }
func IncDecodeFailures() { decodeFailures.Add(1) }
func IncExports() { exportsGenerated.Add(1) }
func IncAnalysesSubmit() { analysesSubmit.Add(1) }
func IncEventsPublished() { eventsPublished.Add(1) }
func IncEventsFailed() { eventsFailed.Add(1) }
func IncRateLimited() { rateLimited.Add(1) }
func DecodeFailures() int64 { return decodeFailures.Load() }

type counter struct {
	name string
	help string
	v    *atomic.Int64
}

var counters = []counter{
	{"frottis_backend_requests_total", "Requests sent to the classification backend.", &backendRequests},
	{"frottis_backend_failures_total", "Backend requests that failed at transport level or returned a non-2xx status.", &backendFailures},
	{"frottis_status_decode_failures_total", "Analysis status payloads that could not be decoded.", &decodeFailures},
	{"frottis_exports_total", "Analysis exports generated.", &exportsGenerated},
	{"frottis_analyses_submitted_total", "Smear images submitted for analysis.", &analysesSubmit},
	{"frottis_events_published_total", "Dashboard events published to the event bus.", &eventsPublished},
	{"frottis_events_failed_total", "Dashboard events that could not be published.", &eventsFailed},
	{"frottis_rate_limited_total", "Requests rejected by the gateway rate limiter.", &rateLimited},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.v.Load())
	}
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	}
}

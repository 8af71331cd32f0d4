package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP traffic and job lifecycle
// events. Intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	dispatchesTotal = make(map[string]int64) // outcome: ok|publish_failed
	resultsTotal    = make(map[string]int64) // outcome: see RecordResult
	stageReports    = make(map[string]int64) // stage name
	transitions     = make(map[trKey]int64)  // event x allowed
	dedupEvictions  int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type trKey struct {
	Event   string
	Allowed string
}

// Result outcomes recorded by the consumer loop.
const (
	ResultApplied   = "applied"   // terminal state committed
	ResultDiscarded = "discarded" // job already terminal, result dropped
	ResultDuplicate = "duplicate" // message id seen before
	ResultPoison    = "poison"    // unparseable message dropped
	ResultOrphan    = "orphan"    // job not found
	ResultDeferred  = "deferred"  // transient failure, left for redelivery
)

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordDispatch counts a request-queue publish attempt.
func RecordDispatch(ok bool) {
	mu.Lock()
	defer mu.Unlock()
	if ok {
		dispatchesTotal["ok"]++
	} else {
		dispatchesTotal["publish_failed"]++
	}
}

// RecordResult counts one processed result message by outcome.
func RecordResult(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	resultsTotal[outcome]++
}

// RecordStageReport counts stage reports by stage name.
func RecordStageReport(stage string) {
	mu.Lock()
	defer mu.Unlock()
	stageReports[stage]++
}

// RecordTransition counts retry/cancel attempts and whether they were legal.
func RecordTransition(event string, allowed bool) {
	mu.Lock()
	defer mu.Unlock()
	a := "false"
	if allowed {
		a = "true"
	}
	transitions[trKey{Event: event, Allowed: a}]++
}

// RecordDedupEvictions adds to the dedup cache eviction counter.
func RecordDedupEvictions(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	dedupEvictions += n
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP bricksmith_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE bricksmith_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "bricksmith_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP bricksmith_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE bricksmith_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP bricksmith_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE bricksmith_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "bricksmith_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "bricksmith_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP bricksmith_dispatches_total Request-queue publish attempts\n")
	b.WriteString("# TYPE bricksmith_dispatches_total counter\n")
	for _, k := range sortedKeys(dispatchesTotal) {
		fmt.Fprintf(&b, "bricksmith_dispatches_total{outcome=\"%s\"} %d\n", k, dispatchesTotal[k])
	}

	b.WriteString("# HELP bricksmith_results_total Result messages processed by outcome\n")
	b.WriteString("# TYPE bricksmith_results_total counter\n")
	for _, k := range sortedKeys(resultsTotal) {
		fmt.Fprintf(&b, "bricksmith_results_total{outcome=\"%s\"} %d\n", k, resultsTotal[k])
	}

	b.WriteString("# HELP bricksmith_stage_reports_total Worker stage reports by stage\n")
	b.WriteString("# TYPE bricksmith_stage_reports_total counter\n")
	for _, k := range sortedKeys(stageReports) {
		fmt.Fprintf(&b, "bricksmith_stage_reports_total{stage=\"%s\"} %d\n", k, stageReports[k])
	}

	b.WriteString("# HELP bricksmith_transitions_total Retry/cancel attempts by legality\n")
	b.WriteString("# TYPE bricksmith_transitions_total counter\n")
	var trKeys []trKey
	for k := range transitions {
		trKeys = append(trKeys, k)
	}
	sort.Slice(trKeys, func(i, j int) bool {
		if trKeys[i].Event != trKeys[j].Event {
			return trKeys[i].Event < trKeys[j].Event
		}
		return trKeys[i].Allowed < trKeys[j].Allowed
	})
	for _, k := range trKeys {
		fmt.Fprintf(&b, "bricksmith_transitions_total{event=\"%s\",allowed=\"%s\"} %d\n",
			k.Event, k.Allowed, transitions[k])
	}

	b.WriteString("# HELP bricksmith_dedup_evictions_total Ids evicted from the dedup cache\n")
	b.WriteString("# TYPE bricksmith_dedup_evictions_total counter\n")
	fmt.Fprintf(&b, "bricksmith_dedup_evictions_total %d\n", dedupEvictions)

	return b.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

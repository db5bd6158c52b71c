package metrics

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Counters stores application metrics
type Counters struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	CacheHits          uint64
	CacheMisses        uint64
	OracleCalls        uint64
	OracleFailures     uint64
	CreditsDenied      uint64
	BatchPartsStored   uint64
	BatchesFinalized   uint64
	StartTime          time.Time
}

var global = &Counters{StartTime: time.Now()}

func IncrementRequests()   { atomic.AddUint64(&global.RequestsTotal, 1) }
func IncrementInProgress() { atomic.AddUint64(&global.RequestsInProgress, 1) }
func DecrementInProgress() { atomic.AddUint64(&global.RequestsInProgress, ^uint64(0)) }
func IncrementSuccess()    { atomic.AddUint64(&global.RequestsSuccess, 1) }
func IncrementFailed()     { atomic.AddUint64(&global.RequestsFailed, 1) }

func IncrementCacheHits()        { atomic.AddUint64(&global.CacheHits, 1) }
func IncrementCacheMisses()      { atomic.AddUint64(&global.CacheMisses, 1) }
func IncrementOracleCalls()      { atomic.AddUint64(&global.OracleCalls, 1) }
func IncrementOracleFailures()   { atomic.AddUint64(&global.OracleFailures, 1) }
func IncrementCreditsDenied()    { atomic.AddUint64(&global.CreditsDenied, 1) }
func IncrementBatchPartsStored() { atomic.AddUint64(&global.BatchPartsStored, 1) }
func IncrementBatchesFinalized() { atomic.AddUint64(&global.BatchesFinalized, 1) }

// Snapshot returns current metrics
func Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&global.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&global.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&global.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&global.RequestsFailed),
		"cache_hits":           atomic.LoadUint64(&global.CacheHits),
		"cache_misses":         atomic.LoadUint64(&global.CacheMisses),
		"oracle_calls":         atomic.LoadUint64(&global.OracleCalls),
		"oracle_failures":      atomic.LoadUint64(&global.OracleFailures),
		"credits_denied":       atomic.LoadUint64(&global.CreditsDenied),
		"batch_parts_stored":   atomic.LoadUint64(&global.BatchPartsStored),
		"batches_finalized":    atomic.LoadUint64(&global.BatchesFinalized),
		"uptime_seconds":       time.Since(global.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Handler returns metrics as JSON
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Snapshot())
}

// Package hugemetrics exposes Prometheus histograms and counters for
// the latency and error counts of fuse and control operations, plus a
// count of bytes read from each store, labeled with operation-name
// constants modelled on the teacher's fuse layer.
package hugemetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation name labels, matching common.Op* in spirit: one constant
// per fuse or control operation that gets timed.
const (
	OpLookUpInode        = "LookUpInode"
	OpGetInodeAttributes = "GetInodeAttributes"
	OpSetInodeAttributes = "SetInodeAttributes"
	OpMkDir              = "MkDir"
	OpCreateFile         = "CreateFile"
	OpCreateSymlink      = "CreateSymlink"
	OpCreateLink         = "CreateLink"
	OpRename             = "Rename"
	OpRmDir              = "RmDir"
	OpUnlink             = "Unlink"
	OpOpenDir            = "OpenDir"
	OpReadDir            = "ReadDir"
	OpOpenFile           = "OpenFile"
	OpReadFile           = "ReadFile"
	OpWriteFile          = "WriteFile"
	OpFlushFile          = "FlushFile"
	OpReleaseFileHandle  = "ReleaseFileHandle"
	OpReadSymlink        = "ReadSymlink"
	OpStatFS             = "StatFS"

	OpControlStatus   = "ControlStatus"
	OpControlMirror   = "ControlMirror"
	OpControlFinalize = "ControlFinalize"

	OpStoreGet = "StoreGet"
	OpStoreAdd = "StoreAdd"
	OpStoreHas = "StoreHas"
)

var (
	opLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hugefs",
		Name:      "op_latency_seconds",
		Help:      "Latency of filesystem and control operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	opErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hugefs",
		Name:      "op_errors_total",
		Help:      "Count of filesystem and control operations that returned an error.",
	}, []string{"op"})

	storeBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hugefs",
		Name:      "store_bytes_total",
		Help:      "Bytes read from or written to a content store.",
	}, []string{"op", "store"})
)

func init() {
	prometheus.MustRegister(opLatency, opErrors, storeBytes)
}

// Timer measures one operation's latency and records its outcome on
// Observe.
type Timer struct {
	op    string
	start time.Time
}

// Start begins timing op.
func Start(op string) Timer {
	return Timer{op: op, start: time.Now()}
}

// Observe records the elapsed time and, if err is non-nil, increments
// the operation's error counter.
func (t Timer) Observe(err error) {
	opLatency.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
	if err != nil {
		opErrors.WithLabelValues(t.op).Inc()
	}
}

// AddStoreBytes records n bytes moved by op against store.
func AddStoreBytes(op, store string, n int) {
	storeBytes.WithLabelValues(op, store).Add(float64(n))
}

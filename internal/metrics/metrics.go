// Package metrics publishes the bridge counters to Prometheus and keeps an
// in-process copy of each value for the periodic log line and /status.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// counter is a Prometheus counter with a local mirror readable without a scrape.
type counter struct {
	prom  prometheus.Counter
	local atomic.Uint64
}

func newCounter(name, help string) *counter {
	return &counter{prom: promauto.NewCounter(prometheus.CounterOpts{Name: name, Help: help})}
}

func (c *counter) add(n uint64) {
	c.prom.Add(float64(n))
	c.local.Add(n)
}

type gauge struct {
	prom  prometheus.Gauge
	local atomic.Uint64
}

func newGauge(name, help string) *gauge {
	return &gauge{prom: promauto.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})}
}

func (g *gauge) set(v uint64) {
	g.prom.Set(float64(v))
	g.local.Store(v)
}

// Controller.
var (
	ctrlRx        = newCounter("bxcan_rx_frames_total", "CAN frames read from the controller receive FIFOs.")
	ctrlTx        = newCounter("bxcan_tx_frames_total", "CAN frames placed in controller transmit mailboxes.")
	ctrlRetries   = newCounter("bxcan_tx_would_block_total", "Transmit attempts deferred because every mailbox was pending.")
	ctrlOverruns  = newCounter("bxcan_rx_overruns_total", "Receive FIFO overruns reported by the controller.")
	ctrlTxFailed  = &counter{}
	ctrlTEC       = newGauge("bxcan_transmit_error_count", "Controller transmit error counter.")
	ctrlREC       = newGauge("bxcan_receive_error_count", "Controller receive error counter.")
	ctrlFault     = newGauge("bxcan_fault_confinement_state", "0 error active, 1 error passive, 2 bus off.")
	ctrlMode      = newGauge("bxcan_operation_mode", "0 integrating, 1 idle, 2 receiver, 3 transmitter.")
	ctrlFilters   = newGauge("bxcan_unused_filter_banks", "Filter banks not holding an active filter.")
	ctrlMailboxes = newGauge("bxcan_free_mailboxes", "Transmit mailboxes ready for a new frame.")

	txCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bxcan_tx_completed_total",
		Help: "Finished transmit requests by outcome.",
	}, []string{"result"})

	linkTx = newCounter("link_transactions_total", "Register transactions completed over the serial monitor link.")
)

// Clients, hub and mirror.
var (
	socketCANRx = newCounter("socketcan_rx_frames_total", "CAN frames read from the SocketCAN mirror interface.")
	socketCANTx = newCounter("socketcan_tx_frames_total", "CAN frames written to the SocketCAN mirror interface.")
	tcpRx       = newCounter("tcp_rx_frames_total", "CAN frames received from TCP clients.")
	tcpTx       = newCounter("tcp_tx_frames_total", "CAN frames sent to TCP clients.")
	malformed   = newCounter("malformed_frames_total", "Rejected cannelloni frames (bad length, truncated).")
	hubDrops    = newCounter("hub_dropped_frames_total", "Frames dropped for slow clients.")
	hubKicks    = newCounter("hub_kicked_clients_total", "Clients disconnected by the kick policy.")
	hubRejects  = newCounter("hub_rejected_clients_total", "Connections refused at the client limit.")
	hubClients  = newGauge("hub_active_clients", "Connected clients.")
	hubFanout   = newGauge("hub_broadcast_fanout", "Clients targeted by the last broadcast.")
	queueMax    = newGauge("hub_queue_depth_max", "Largest client queue in the last sample.")
	queueAvg    = newGauge("hub_queue_depth_avg", "Average client queue in the last sample.")

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Errors by subsystem.",
	}, []string{"where"})
	errorsLocal atomic.Uint64

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
)

// Error labels; the set is closed to bound cardinality.
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrCtrlTx         = "controller_tx"
	ErrCtrlOverflow   = "controller_tx_overflow"
	ErrCtrlRx         = "controller_rx"
	ErrLink           = "link"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrCtrlTx, ErrCtrlOverflow, ErrCtrlRx, ErrLink,
	ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
}

// Snapshot is a copy of the local mirrors.
type Snapshot struct {
	CtrlRx        uint64
	CtrlTx        uint64
	CtrlRetries   uint64
	CtrlTxFailed  uint64
	RxOverruns    uint64
	LinkTx        uint64
	SocketCANRx   uint64
	SocketCANTx   uint64
	TCPRx         uint64
	TCPTx         uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // all labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
	TEC           uint64
	REC           uint64
	Confinement   uint64
}

func Snap() Snapshot {
	return Snapshot{
		CtrlRx:        ctrlRx.local.Load(),
		CtrlTx:        ctrlTx.local.Load(),
		CtrlRetries:   ctrlRetries.local.Load(),
		CtrlTxFailed:  ctrlTxFailed.local.Load(),
		RxOverruns:    ctrlOverruns.local.Load(),
		LinkTx:        linkTx.local.Load(),
		SocketCANRx:   socketCANRx.local.Load(),
		SocketCANTx:   socketCANTx.local.Load(),
		TCPRx:         tcpRx.local.Load(),
		TCPTx:         tcpTx.local.Load(),
		HubDrops:      hubDrops.local.Load(),
		HubKicks:      hubKicks.local.Load(),
		HubRejects:    hubRejects.local.Load(),
		Errors:        errorsLocal.Load(),
		HubClients:    hubClients.local.Load(),
		Fanout:        hubFanout.local.Load(),
		Malformed:     malformed.local.Load(),
		QueueDepthMax: queueMax.local.Load(),
		QueueDepthAvg: queueAvg.local.Load(),
		TEC:           ctrlTEC.local.Load(),
		REC:           ctrlREC.local.Load(),
		Confinement:   ctrlFault.local.Load(),
	}
}

func IncCtrlRx() { ctrlRx.add(1) }
func IncCtrlTx() { ctrlTx.add(1) }

// IncCtrlRetry counts one ErrWouldBlock from Transmit.
func IncCtrlRetry() { ctrlRetries.add(1) }

func IncRxOverrun()       { ctrlOverruns.add(1) }
func IncLinkTransaction() { linkTx.add(1) }

// IncTxCompleted records the outcome of one finished mailbox.
func IncTxCompleted(ok bool) {
	if ok {
		txCompleted.WithLabelValues("ok").Inc()
		return
	}
	txCompleted.WithLabelValues("failed").Inc()
	ctrlTxFailed.local.Add(1)
}

func IncSocketCANRx()          { socketCANRx.add(1) }
func IncSocketCANTx()          { socketCANTx.add(1) }
func IncTCPRx()                { tcpRx.add(1) }
func AddTCPTx(n int)           { tcpTx.add(uint64(n)) }
func IncMalformed()            { malformed.add(1) }
func IncHubDrop()              { hubDrops.add(1) }
func IncHubKick()              { hubKicks.add(1) }
func IncHubReject()            { hubRejects.add(1) }
func SetHubClients(n int)      { hubClients.set(uint64(n)) }
func SetBroadcastFanout(n int) { hubFanout.set(uint64(n)) }

// SetQueueDepth records the max and average client queue length.
func SetQueueDepth(max, avg int) {
	queueMax.set(uint64(max))
	queueAvg.set(uint64(avg))
}

func IncError(label string) {
	errorsTotal.WithLabelValues(label).Inc()
	errorsLocal.Add(1)
}

// ControllerSample is what the state poller reads from the controller.
type ControllerSample struct {
	TEC, REC          uint32
	Confinement       int
	Mode              int
	UnusedFilterBanks uint32
	FreeMailboxes     int
}

// SetController publishes one controller state sample.
func SetController(s ControllerSample) {
	ctrlTEC.set(uint64(s.TEC))
	ctrlREC.set(uint64(s.REC))
	ctrlFault.set(uint64(s.Confinement))
	ctrlMode.set(uint64(s.Mode))
	ctrlFilters.set(uint64(s.UnusedFilterBanks))
	ctrlMailboxes.set(uint64(s.FreeMailboxes))
}

// InitBuildInfo sets build_info and creates every labelled series at zero.
func InitBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		errorsTotal.WithLabelValues(lbl).Add(0)
	}
	txCompleted.WithLabelValues("ok").Add(0)
	txCompleted.WithLabelValues("failed").Add(0)
}

var (
	readyMu sync.RWMutex
	readyFn func() bool
)

// SetReadinessFunc registers the check behind /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readyMu.Lock(); readyFn = fn; readyMu.Unlock() }

// IsReady reports true until a readiness function is registered.
func IsReady() bool {
	readyMu.RLock()
	fn := readyFn
	readyMu.RUnlock()
	return fn == nil || fn()
}

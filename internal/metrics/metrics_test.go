package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncCtrlRx()
	IncCtrlTx()
	IncCtrlRetry()
	IncTxCompleted(false)
	IncTxCompleted(true)
	IncRxOverrun()
	IncError(ErrCtrlTx)
	after := Snap()
	if after.CtrlRx != before.CtrlRx+1 || after.CtrlTx != before.CtrlTx+1 || after.CtrlRetries != before.CtrlRetries+1 {
		t.Fatalf("frame counters: before=%+v after=%+v", before, after)
	}
	if after.CtrlTxFailed != before.CtrlTxFailed+1 || after.RxOverruns != before.RxOverruns+1 || after.Errors != before.Errors+1 {
		t.Fatalf("failure counters: before=%+v after=%+v", before, after)
	}
	SetController(ControllerSample{TEC: 130, REC: 4, Confinement: 1})
	if s := Snap(); s.TEC != 130 || s.REC != 4 || s.Confinement != 1 {
		t.Fatalf("controller gauges %+v", s)
	}
}

func TestRouter(t *testing.T) {
	defer SetReadinessFunc(nil)
	h := Router(func() any { return map[string]string{"mode": "idle"} })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "bxcan_rx_frames_total") {
		t.Fatalf("/metrics: %d", rec.Code)
	}

	SetReadinessFunc(func() bool { return false })
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ready not ready: %d", rec.Code)
	}

	SetReadinessFunc(func() bool { return true })
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/status: %d", rec.Code)
	}
	var body struct {
		Ready      bool              `json:"ready"`
		Controller map[string]string `json:"controller"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ready || body.Controller["mode"] != "idle" {
		t.Fatalf("status body %s", rec.Body.String())
	}
}

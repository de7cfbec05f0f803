package canif

import (
	"sync"

	"github.com/kstaniek/go-bxcan/internal/can"
)

// Synchronized wraps i so that every call holds one mutex. Drivers are not
// internally synchronized; use this when more than one goroutine shares a handle.
func Synchronized(i Interface) Interface {
	if s, ok := i.(*syncIface); ok {
		return s
	}
	return &syncIface{inner: i}
}

type syncIface struct {
	mu    sync.Mutex
	inner Interface
}

func (s *syncIface) Receive() (can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Receive()
}

func (s *syncIface) Transmit(f can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Transmit(f)
}

func (s *syncIface) SetSpeed(p TimingParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetSpeed(p)
}

func (s *syncIface) MaximumTimingValues() TimingParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MaximumTimingValues()
}

func (s *syncIface) CurrentOperationMode() OperationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.CurrentOperationMode()
}

func (s *syncIface) InBusMonitoringMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.InBusMonitoringMode()
}

func (s *syncIface) UnusedFilterBankCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.UnusedFilterBankCount()
}

func (s *syncIface) AddFilter(f MessageFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.AddFilter(f)
}

func (s *syncIface) RemoveFilter(f MessageFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.RemoveFilter(f)
}

func (s *syncIface) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.ClearFilters()
}

func (s *syncIface) IsAsleep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.IsAsleep()
}

func (s *syncIface) RequestSleepMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.RequestSleepMode()
}

func (s *syncIface) RequestWakeup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.RequestWakeup()
}

func (s *syncIface) FaultConfinementState() FaultConfinementState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FaultConfinementState()
}

func (s *syncIface) ReceiveErrorCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ReceiveErrorCount()
}

func (s *syncIface) TransmitErrorCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TransmitErrorCount()
}

// Do runs fn while holding the lock of a handle returned by Synchronized, so
// driver specific calls outside Interface can be serialized with it. For any
// other Interface fn runs directly.
func Do(i Interface, fn func(Interface)) {
	s, ok := i.(*syncIface)
	if !ok {
		fn(i)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.inner)
}

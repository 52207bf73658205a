package session

import (
	"sync/atomic"

	"github.com/zenithtek/go-autostart/command"
)

// Metrics contains atomic counters for a session manager.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// OpenCount indicates the number of successful port opens.
	OpenCount atomic.Uint64
	// OpenErrCount indicates the number of failed port opens.
	OpenErrCount atomic.Uint64
	// ReconnectCount indicates the number of Reconnect calls.
	ReconnectCount atomic.Uint64
	// ExclusiveRunCount indicates the number of exclusive access windows run.
	ExclusiveRunCount atomic.Uint64
	// ExclusiveErrCount indicates the number of exclusive handlers that failed.
	ExclusiveErrCount atomic.Uint64
	// CommandCount indicates the number of command exchanges.
	CommandCount atomic.Uint64
	// CommandErrCount indicates the number of failed command exchanges.
	CommandErrCount atomic.Uint64
	// DrainedBytes indicates the number of unsolicited bytes discarded by the drain.
	DrainedBytes atomic.Uint64
	// DrainErrCount indicates the number of drain loops ended by a reader error.
	DrainErrCount atomic.Uint64
	// DeviceLostCount indicates the number of device-lost conditions observed.
	DeviceLostCount atomic.Uint64
}

func (m *Metrics) incOpenCount()         { m.OpenCount.Add(1) }
func (m *Metrics) incOpenErrCount()      { m.OpenErrCount.Add(1) }
func (m *Metrics) incReconnectCount()    { m.ReconnectCount.Add(1) }
func (m *Metrics) incExclusiveRunCount() { m.ExclusiveRunCount.Add(1) }
func (m *Metrics) incExclusiveErrCount() { m.ExclusiveErrCount.Add(1) }
func (m *Metrics) incDrainErrCount()     { m.DrainErrCount.Add(1) }
func (m *Metrics) incDeviceLostCount()   { m.DeviceLostCount.Add(1) }

func (m *Metrics) addDrainedBytes(n int) {
	if n > 0 {
		m.DrainedBytes.Add(uint64(n))
	}
}

// observeCommand is installed as the channel exchange hook.
func (m *Metrics) observeCommand(_ command.Command, err error) {
	m.CommandCount.Add(1)
	if err != nil {
		m.CommandErrCount.Add(1)
	}
}

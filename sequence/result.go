package sequence

import (
	"github.com/zenithtek/go-autostart/profile"
)

// Operation names a routine.
type Operation string

const (
	OpConfigure     Operation = "configure"
	OpDetect        Operation = "detect"
	OpExitAutoMode  Operation = "exit-auto"
	OpFactoryReset  Operation = "factory-reset"
	OpCheckAutoMode Operation = "check-auto"
)

// Request selects a routine and its parameters for Run.
type Request struct {
	Operation Operation          `json:"operation"`
	Sensor    profile.SensorType `json:"sensor,omitempty"`
	// RateSPS is the IMU sampling rate; nil selects the profile default.
	// It must be nil for fixed-rate sensors.
	RateSPS *float64 `json:"rateSps,omitempty"`
	// Persist makes exit-auto save the disabled state to flash.
	Persist bool `json:"persist,omitempty"`
}

// Result is what every routine returns. Routines never return errors.
type Result struct {
	RunID           string             `json:"runId"`
	Operation       Operation          `json:"operation"`
	Success         bool               `json:"success"`
	Message         string             `json:"message"`
	RequiresRestart bool               `json:"requiresRestart,omitempty"`
	ProductID       string             `json:"productId,omitempty"`
	ProductIDRaw    string             `json:"productIdRaw,omitempty"`
	SerialNumber    string             `json:"serialNumber,omitempty"`
	SensorType      profile.SensorType `json:"sensorType,omitempty"`
	SamplingRateSPS float64            `json:"samplingRateSps,omitempty"`
	FilterLabel     string             `json:"filter,omitempty"`
	AutoMode        *bool              `json:"autoMode,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	ErrorKind       string             `json:"errorKind,omitempty"`
	Attempts        int                `json:"attempts,omitempty"`
}

func (r *Result) warn(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Message = err.Error()
	r.ErrorKind = KindOf(err)
}

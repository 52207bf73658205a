// Package profile holds the static sensor profiles: which frames reset and
// configure each sensor family, the IMU sampling table and the product-id
// alias table used to identify a connected sensor.
package profile

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/zenithtek/go-autostart/command"
)

var (
	// ErrUnknownSensor is returned for a sensor type without a profile.
	ErrUnknownSensor = errors.New("profile: unknown sensor type")
	// ErrUnsupportedRate is returned for a sampling rate missing from the table.
	ErrUnsupportedRate = errors.New("profile: unsupported sampling rate")
	// ErrFixedSampling is returned when a rate is given for a fixed-rate sensor.
	ErrFixedSampling = errors.New("profile: sensor has fixed sampling")
	// ErrInvalidTable is returned for a malformed sampling or alias table.
	ErrInvalidTable = errors.New("profile: invalid table")
)

// SensorType names a sensor family.
type SensorType string

const (
	Vibration SensorType = "vibration"
	IMU       SensorType = "imu"
)

// ParseSensorType parses "vibration" or "imu", case-insensitively.
func ParseSensorType(s string) (SensorType, error) {
	switch t := SensorType(strings.ToLower(strings.TrimSpace(s))); t {
	case Vibration, IMU:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSensor, s)
	}
}

// SupportedBauds lists the UART baud rates the sensors accept.
var SupportedBauds = []int{230400, 460800, 921600}

// DefaultBaud is the factory baud rate.
const DefaultBaud = 460800

// SamplingOption is one row of the IMU sampling table.
type SamplingOption struct {
	RateSPS     float64 `yaml:"rate_sps" json:"rateSps"`
	DoutCode    byte    `yaml:"dout_code" json:"doutCode"`
	FilterCode  byte    `yaml:"filter_code" json:"filterCode"`
	FilterLabel string  `yaml:"filter_label" json:"filterLabel"`
	Default     bool    `yaml:"default" json:"default"`
}

// Label renders the rate the way users type it, e.g. "125 SPS" or "62.5 SPS".
func (o SamplingOption) Label() string {
	return strconv.FormatFloat(o.RateSPS, 'f', -1, 64) + " SPS"
}

// Profile describes how to drive one sensor family.
type Profile struct {
	Type  SensorType
	Model string
	// Reset puts the sensor's window state machine in a known state.
	Reset []command.Command
	// AutoStart programs burst output (if any) and enables UART Auto Start.
	AutoStart []command.Command
	// Sampling is empty for fixed-rate sensors.
	Sampling     []SamplingOption
	AllowedBauds []int
}

// FixedSampling reports whether the profile has no selectable rate.
func (p *Profile) FixedSampling() bool {
	return len(p.Sampling) == 0
}

// SamplingOption returns the table row for rateSPS.
func (p *Profile) SamplingOption(rateSPS float64) (SamplingOption, error) {
	if p.FixedSampling() {
		return SamplingOption{}, fmt.Errorf("%w: %s", ErrFixedSampling, p.Type)
	}

	for _, opt := range p.Sampling {
		if math.Abs(opt.RateSPS-rateSPS) < 1e-6 {
			return opt, nil
		}
	}

	labels := make([]string, 0, len(p.Sampling))
	for _, opt := range p.Sampling {
		labels = append(labels, opt.Label())
	}

	return SamplingOption{}, fmt.Errorf("%w: %v SPS (supported: %s)", ErrUnsupportedRate, rateSPS, strings.Join(labels, ", "))
}

// DefaultSamplingOption returns the row flagged as default.
func (p *Profile) DefaultSamplingOption() (SamplingOption, error) {
	for _, opt := range p.Sampling {
		if opt.Default {
			return opt, nil
		}
	}

	return SamplingOption{}, fmt.Errorf("%w: %s", ErrFixedSampling, p.Type)
}

// SamplingCommands returns the frames that program opt.
func (p *Profile) SamplingCommands(opt SamplingOption) []command.Command {
	return []command.Command{
		command.SelectWindow(command.MetadataWindow),
		command.RegDoutRate.Write(opt.DoutCode),
		command.RegFilterCtrl.Write(opt.FilterCode),
	}
}

// AllowsBaud reports whether baud is accepted by the sensor.
func (p *Profile) AllowsBaud(baud int) bool {
	return slices.Contains(p.AllowedBauds, baud)
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Reset = slices.Clone(p.Reset)
	c.AutoStart = slices.Clone(p.AutoStart)
	c.Sampling = slices.Clone(p.Sampling)
	c.AllowedBauds = slices.Clone(p.AllowedBauds)

	return &c
}

func validateSampling(t SensorType, table []SamplingOption) error {
	if len(table) == 0 {
		return nil
	}

	defaults := 0
	seen := make(map[float64]struct{}, len(table))
	for _, opt := range table {
		if opt.RateSPS <= 0 {
			return fmt.Errorf("%w: %s: non-positive rate %v", ErrInvalidTable, t, opt.RateSPS)
		}
		if _, dup := seen[opt.RateSPS]; dup {
			return fmt.Errorf("%w: %s: duplicate rate %v", ErrInvalidTable, t, opt.RateSPS)
		}
		seen[opt.RateSPS] = struct{}{}
		if opt.Default {
			defaults++
		}
	}

	if defaults != 1 {
		return fmt.Errorf("%w: %s: want exactly one default rate, got %d", ErrInvalidTable, t, defaults)
	}

	return nil
}

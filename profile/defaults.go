package profile

import "github.com/zenithtek/go-autostart/command"

// Canonical model names.
const (
	ModelVibration = "M-A542VR1"
	ModelIMU       = "M-G552PR80"
)

// tap128 is the FILTER_SEL code for a 128-tap moving average.
const tap128 = 0x07

// imuSampling uses TAP=128 for every rate.
var imuSampling = []SamplingOption{
	{RateSPS: 2000, DoutCode: 0x00, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 1000, DoutCode: 0x01, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 500, DoutCode: 0x02, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 250, DoutCode: 0x03, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 125, DoutCode: 0x04, FilterCode: tap128, FilterLabel: "TAP=128", Default: true},
	{RateSPS: 62.5, DoutCode: 0x05, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 31.25, DoutCode: 0x06, FilterCode: tap128, FilterLabel: "TAP=128"},
	{RateSPS: 15.625, DoutCode: 0x07, FilterCode: tap128, FilterLabel: "TAP=128"},
}

// defaultAliases maps the PRODUCT_ID strings the supported sensors report to
// their canonical models. Other firmware encodings are added through an
// override file with a higher revision.
var defaultAliases = []Alias{
	{Code: "G365PDF1", Sensor: IMU, Model: ModelIMU, Revision: 1},
	{Code: "A352AD10", Sensor: Vibration, Model: "M-A552AR1", Revision: 1},
}

func defaultProfiles() []*Profile {
	reset := command.ResetSequence()

	return []*Profile{
		{
			Type:  Vibration,
			Model: ModelVibration,
			Reset: reset,
			AutoStart: []command.Command{
				command.SelectWindow(command.MetadataWindow),
				command.RegUARTCtrl.Write(command.UARTCtrlAutoStart),
			},
			AllowedBauds: SupportedBauds,
		},
		{
			Type:  IMU,
			Model: ModelIMU,
			Reset: reset,
			AutoStart: []command.Command{
				command.SelectWindow(command.MetadataWindow),
				command.RegUARTCtrl.Write(command.UARTCtrlAutoStart),
				// COUNT on, checksum off
				command.RegBurstCtrl1.Write(0x02),
				// FLAG, TEMP, GYRO, ACCL on
				command.RegBurstCtrl2.Write(0xF0),
				// 32-bit outputs
				command.RegBurstCtrl4.Write(0x70),
			},
			Sampling:     imuSampling,
			AllowedBauds: SupportedBauds,
		},
	}
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := NewRegistry(defaultProfiles(), defaultAliases)
	if err != nil {
		panic(err)
	}

	return r
}

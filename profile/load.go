package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides is the YAML document accepted by Parse and LoadFile.
//
//	imu:
//	  sampling:
//	    - {rate_sps: 125, dout_code: 0x04, filter_code: 0x04, filter_label: TAP=16, default: true}
//	aliases:
//	  - {code: G365PDF1, sensor: imu, model: M-G552PR80, revision: 3}
//
// A sampling table replaces the built-in one for that sensor. Aliases are
// merged with the built-in table and resolved by revision.
type Overrides struct {
	IMU       *profileOverride `yaml:"imu"`
	Vibration *profileOverride `yaml:"vibration"`
	Bauds     []int            `yaml:"bauds"`
	Aliases   []Alias          `yaml:"aliases"`
}

type profileOverride struct {
	Sampling []SamplingOption `yaml:"sampling"`
}

// LoadFile reads a YAML override file and applies it to the built-in registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}

	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return r, nil
}

// Parse decodes a YAML override document and applies it to the built-in registry.
// An empty document yields the defaults.
func Parse(data []byte) (*Registry, error) {
	var o Overrides

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("profile: decode overrides: %w", err)
	}

	return o.Apply()
}

// Apply builds a registry from the built-in profiles with o applied.
func (o Overrides) Apply() (*Registry, error) {
	profiles := defaultProfiles()

	for _, p := range profiles {
		var po *profileOverride
		switch p.Type {
		case IMU:
			po = o.IMU
		case Vibration:
			po = o.Vibration
		}

		if po != nil && po.Sampling != nil {
			if p.FixedSampling() {
				return nil, fmt.Errorf("%w: %s", ErrFixedSampling, p.Type)
			}
			p.Sampling = po.Sampling
		}

		if len(o.Bauds) > 0 {
			for _, b := range o.Bauds {
				if b <= 0 {
					return nil, fmt.Errorf("%w: baud %d", ErrInvalidTable, b)
				}
			}
			p.AllowedBauds = o.Bauds
		}
	}

	aliases := make([]Alias, 0, len(defaultAliases)+len(o.Aliases))
	aliases = append(aliases, defaultAliases...)
	aliases = append(aliases, o.Aliases...)

	return NewRegistry(profiles, aliases)
}

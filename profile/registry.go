package profile

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Alias maps a raw PRODUCT_ID string to a canonical sensor.
type Alias struct {
	Code     string     `yaml:"code" json:"code"`
	Sensor   SensorType `yaml:"sensor" json:"sensor"`
	Model    string     `yaml:"model" json:"model"`
	Revision int        `yaml:"revision" json:"revision"`
}

// Conflict records a code mapped differently by several alias revisions.
// Kept is the mapping in use; Dropped holds the others.
type Conflict struct {
	Code    string
	Kept    Alias
	Dropped []Alias
}

func (c Conflict) String() string {
	dropped := make([]string, 0, len(c.Dropped))
	for _, a := range c.Dropped {
		dropped = append(dropped, fmt.Sprintf("%s/%s@r%d", a.Sensor, a.Model, a.Revision))
	}

	return fmt.Sprintf("%s: using %s/%s@r%d, ignoring %s",
		c.Code, c.Kept.Sensor, c.Kept.Model, c.Kept.Revision, strings.Join(dropped, ", "))
}

// Identity is the result of resolving a raw product id.
type Identity struct {
	Raw    string
	Model  string
	Sensor SensorType
}

// Registry is an immutable set of profiles and aliases.
type Registry struct {
	profiles  map[SensorType]*Profile
	aliases   map[string]Alias
	conflicts []Conflict
}

// NewRegistry validates profiles and aliases and builds a Registry.
//
// When several aliases share a code, the highest Revision wins. If the
// losing entries map to a different sensor or model, a Conflict is recorded.
// Two entries for one code with the same revision but different targets are an
// error.
func NewRegistry(profiles []*Profile, aliases []Alias) (*Registry, error) {
	r := &Registry{
		profiles: make(map[SensorType]*Profile, len(profiles)),
		aliases:  make(map[string]Alias, len(aliases)),
	}

	for _, p := range profiles {
		if p == nil {
			continue
		}
		if _, err := ParseSensorType(string(p.Type)); err != nil {
			return nil, err
		}
		if err := validateSampling(p.Type, p.Sampling); err != nil {
			return nil, err
		}
		r.profiles[p.Type] = p.clone()
	}

	byCode := make(map[string][]Alias)
	for _, a := range aliases {
		a.Code = normalizeCode(a.Code)
		if a.Code == "" {
			return nil, fmt.Errorf("%w: alias with empty code", ErrInvalidTable)
		}
		if _, ok := r.profiles[a.Sensor]; !ok {
			return nil, fmt.Errorf("%w: alias %s: %q", ErrUnknownSensor, a.Code, a.Sensor)
		}
		byCode[a.Code] = append(byCode[a.Code], a)
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		entries := byCode[code]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Revision > entries[j].Revision })

		kept := entries[0]
		var dropped []Alias
		for _, a := range entries[1:] {
			if a.Sensor == kept.Sensor && a.Model == kept.Model {
				continue
			}
			if a.Revision == kept.Revision {
				return nil, fmt.Errorf("%w: alias %s has two revision %d targets (%s/%s, %s/%s)",
					ErrInvalidTable, code, a.Revision, kept.Sensor, kept.Model, a.Sensor, a.Model)
			}
			dropped = append(dropped, a)
		}

		r.aliases[code] = kept
		if len(dropped) > 0 {
			r.conflicts = append(r.conflicts, Conflict{Code: code, Kept: kept, Dropped: dropped})
		}
	}

	return r, nil
}

// Profile returns the profile for t.
func (r *Registry) Profile(t SensorType) (*Profile, error) {
	p, ok := r.profiles[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSensor, t)
	}

	return p, nil
}

// Types returns the registered sensor types in sorted order.
func (r *Registry) Types() []SensorType {
	types := make([]SensorType, 0, len(r.profiles))
	for t := range r.profiles {
		types = append(types, t)
	}
	slices.Sort(types)

	return types
}

// Aliases returns the effective alias table sorted by code.
func (r *Registry) Aliases() []Alias {
	out := make([]Alias, 0, len(r.aliases))
	for _, a := range r.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })

	return out
}

// Conflicts returns the alias conflicts found while building the registry.
func (r *Registry) Conflicts() []Conflict {
	return slices.Clone(r.conflicts)
}

// Resolve maps a raw PRODUCT_ID to a canonical identity. Raw ids that already
// are a canonical model name resolve to that model's profile. ok is false when
// nothing matches; the returned Identity then carries only Raw and Model=Raw.
func (r *Registry) Resolve(raw string) (Identity, bool) {
	raw = strings.TrimSpace(raw)
	id := Identity{Raw: raw, Model: raw}

	code := normalizeCode(raw)
	if code == "" {
		return id, false
	}

	if a, ok := r.aliases[code]; ok {
		id.Model = a.Model
		id.Sensor = a.Sensor

		return id, true
	}

	for _, p := range r.profiles {
		if normalizeCode(p.Model) == code {
			id.Model = p.Model
			id.Sensor = p.Type

			return id, true
		}
	}

	return id, false
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

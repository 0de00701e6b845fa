package entity

import (
	"maps"
	"strings"
	"time"
)

// Domain is the entity class in the host platform.
type Domain string

const (
	DomainSensor       Domain = "sensor"
	DomainBinarySensor Domain = "binary_sensor"
	DomainSwitch       Domain = "switch"
	DomainLight        Domain = "light"
)

// ValidDomains lists the domains Gray Logic Sync can mirror.
var ValidDomains = []Domain{DomainSensor, DomainBinarySensor, DomainSwitch, DomainLight}

// Valid reports whether d is a supported domain.
func (d Domain) Valid() bool {
	for _, v := range ValidDomains {
		if d == v {
			return true
		}
	}
	return false
}

// ReadOnly reports whether entities of this domain never accept commands.
func (d Domain) ReadOnly() bool {
	return d == DomainSensor || d == DomainBinarySensor
}

// DomainOf returns the domain prefix of an entity id ("light.kitchen" -> light).
// It returns "" for ids without a dot.
func DomainOf(entityID string) Domain {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return Domain(domain)
}

// ValidateID checks that entityID is "<domain>.<object_id>" with a supported domain.
func ValidateID(entityID string) error {
	domain, object, ok := strings.Cut(entityID, ".")
	if !ok || object == "" || strings.ContainsAny(entityID, " /#+") {
		return ErrInvalidEntityID
	}
	if !Domain(domain).Valid() {
		return ErrUnknownDomain
	}
	return nil
}

// States used by switches, lights and binary sensors.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateToggle      = "toggle"
	StateUnavailable = "unavailable"
)

// Attribute names carried in Snapshot.Attributes.
const (
	AttrBrightness   = "brightness"
	AttrRGBColor     = "rgb_color"
	AttrColorTemp    = "color_temp"
	AttrFriendlyName = "friendly_name"
	AttrSyncedFrom   = "synced_from"
)

// Snapshot is a point-in-time copy of one entity's state.
// The host platform owns the authoritative value; every holder of a
// Snapshot owns its own copy.
type Snapshot struct {
	EntityID    string         `json:"entity_id"`
	Domain      Domain         `json:"domain"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Clone returns a copy whose attribute map is not shared with s.
func (s Snapshot) Clone() Snapshot {
	s.Attributes = maps.Clone(s.Attributes)
	return s
}

// Equal compares state and attributes. Timestamps are ignored.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.EntityID != o.EntityID || s.Domain != o.Domain || s.State != o.State {
		return false
	}
	if len(s.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range s.Attributes {
		ov, ok := o.Attributes[k]
		if !ok || !attrEqual(v, ov) {
			return false
		}
	}
	return true
}

// attrEqual treats JSON-decoded numbers and arrays as equal to their Go
// counterparts.
func attrEqual(a, b any) bool {
	na, aNum := toFloat(a)
	nb, bNum := toFloat(b)
	if aNum && bNum {
		return na == nb
	}
	la, aList := toList(a)
	lb, bList := toList(b)
	if aList && bList {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !attrEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case [3]int:
		return []any{l[0], l[1], l[2]}, true
	case []int:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

// Change is a requested modification of an entity, as sent by a client.
type Change struct {
	State      string  `json:"state,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	RGBColor   *[3]int `json:"rgb_color,omitempty"`
	ColorTemp  *int    `json:"color_temp,omitempty"`
}

// HasAttributes reports whether the change carries any light attribute.
func (c Change) HasAttributes() bool {
	return c.Brightness != nil || c.RGBColor != nil || c.ColorTemp != nil
}

// Services understood by the host platform.
const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
	ServiceToggle  = "toggle"
)

// NativeCommand is a Change translated into the host platform's service call.
type NativeCommand struct {
	EntityID      string         `json:"entity_id"`
	Domain        Domain         `json:"domain"`
	Service       string         `json:"service"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

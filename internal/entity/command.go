package entity

import (
	"fmt"
	"maps"
	"time"
)

// Light attribute bounds.
const (
	maxBrightness = 255
	maxRGB        = 255
	minColorTemp  = 153
	maxColorTemp  = 500
)

// Translate turns a requested Change into the host's native command.
//
// Lights accept on/off/toggle plus brightness, rgb_color and color_temp.
// An attribute-only change on a light implies turn_on. Switches accept
// on/off/toggle only. Sensors and binary sensors accept nothing.
func Translate(entityID string, change Change) (NativeCommand, error) {
	domain := DomainOf(entityID)
	cmd := NativeCommand{EntityID: entityID, Domain: domain}

	switch domain {
	case DomainSensor, DomainBinarySensor:
		return cmd, ErrReadOnly
	case DomainSwitch:
		if change.HasAttributes() {
			return cmd, fmt.Errorf("%w: switches accept on, off or toggle only", ErrInvalidChange)
		}
		service, err := serviceFor(change.State)
		if err != nil {
			return cmd, err
		}
		cmd.Service = service
		return cmd, nil
	case DomainLight:
		return translateLight(cmd, change)
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
}

func serviceFor(state string) (string, error) {
	switch state {
	case StateOn:
		return ServiceTurnOn, nil
	case StateOff:
		return ServiceTurnOff, nil
	case StateToggle:
		return ServiceToggle, nil
	default:
		return "", fmt.Errorf("%w: state %q", ErrInvalidChange, state)
	}
}

func translateLight(cmd NativeCommand, change Change) (NativeCommand, error) {
	state := change.State
	if state == "" && change.HasAttributes() {
		state = StateOn
	}
	service, err := serviceFor(state)
	if err != nil {
		return cmd, err
	}
	cmd.Service = service

	if !change.HasAttributes() {
		return cmd, nil
	}
	if service != ServiceTurnOn {
		return cmd, fmt.Errorf("%w: attributes require state on", ErrInvalidChange)
	}

	cmd.Data = make(map[string]any)
	if b := change.Brightness; b != nil {
		if *b < 0 || *b > maxBrightness {
			return cmd, fmt.Errorf("%w: brightness %d out of range 0-255", ErrInvalidChange, *b)
		}
		cmd.Data[AttrBrightness] = *b
	}
	if rgb := change.RGBColor; rgb != nil {
		for _, c := range rgb {
			if c < 0 || c > maxRGB {
				return cmd, fmt.Errorf("%w: rgb_color component %d out of range 0-255", ErrInvalidChange, c)
			}
		}
		cmd.Data[AttrRGBColor] = *rgb
	}
	if ct := change.ColorTemp; ct != nil {
		if *ct < minColorTemp || *ct > maxColorTemp {
			return cmd, fmt.Errorf("%w: color_temp %d out of range %d-%d", ErrInvalidChange, *ct, minColorTemp, maxColorTemp)
		}
		cmd.Data[AttrColorTemp] = *ct
	}
	return cmd, nil
}

// Apply returns the snapshot that results from running cmd against s.
// LastChanged moves only when the state value changes.
func Apply(s Snapshot, cmd NativeCommand, now time.Time) Snapshot {
	next := s.Clone()

	switch cmd.Service {
	case ServiceTurnOn:
		next.State = StateOn
	case ServiceTurnOff:
		next.State = StateOff
	case ServiceToggle:
		if s.State == StateOn {
			next.State = StateOff
		} else {
			next.State = StateOn
		}
	}

	if len(cmd.Data) > 0 {
		if next.Attributes == nil {
			next.Attributes = make(map[string]any, len(cmd.Data))
		}
		maps.Copy(next.Attributes, cmd.Data)
	}

	next.LastUpdated = now
	if next.State != s.State {
		next.LastChanged = now
	}
	return next
}

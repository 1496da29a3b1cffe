package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/capsync/internal/model"
)

const (
	legacyFieldSep  = ","
	legacyDeviceSep = "|"
	legacyFields    = 5
)

// ErrDelimiterInField is returned by EncodeLegacyDeviceStates when a field
// would corrupt the delimited encoding.
var ErrDelimiterInField = errors.New("store: device state field contains ',' or '|'")

// EncodeDeviceStates converts device states to the JSON TEXT stored in
// session_states.device_states. Field values are stored exactly as given.
func EncodeDeviceStates(states []model.DeviceState) (string, error) {
	if len(states) == 0 {
		return "[]", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(states); err != nil {
		return "", fmt.Errorf("marshal device states: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// DecodeDeviceStates parses either encoding. JSON is recognised by a leading
// '['; anything else non-empty is parsed as the legacy delimited form. An
// empty column means no devices.
func DecodeDeviceStates(data string) ([]model.DeviceState, error) {
	if data == "" {
		return nil, nil
	}
	if strings.HasPrefix(data, "[") {
		var states []model.DeviceState
		if err := json.Unmarshal([]byte(data), &states); err != nil {
			return nil, fmt.Errorf("unmarshal device states: %w", err)
		}
		if len(states) == 0 {
			return nil, nil
		}
		return states, nil
	}
	return DecodeLegacyDeviceStates(data)
}

// EncodeLegacyDeviceStates produces the delimited form
// "id,type,connected,battery,status" joined with "|". Fields containing a
// delimiter are rejected rather than silently corrupting the row.
func EncodeLegacyDeviceStates(states []model.DeviceState) (string, error) {
	parts := make([]string, 0, len(states))
	for i, d := range states {
		for _, field := range []string{d.DeviceID, d.DeviceType, d.Status} {
			if strings.ContainsAny(field, legacyFieldSep+legacyDeviceSep) {
				return "", fmt.Errorf("device %d (%q): %w", i, d.DeviceID, ErrDelimiterInField)
			}
		}
		parts = append(parts, strings.Join([]string{
			d.DeviceID,
			d.DeviceType,
			strconv.FormatBool(d.Connected),
			strconv.Itoa(d.BatteryLevel),
			d.Status,
		}, legacyFieldSep))
	}
	return strings.Join(parts, legacyDeviceSep), nil
}

// DecodeLegacyDeviceStates parses the delimited form.
func DecodeLegacyDeviceStates(data string) ([]model.DeviceState, error) {
	if data == "" {
		return nil, nil
	}
	devices := strings.Split(data, legacyDeviceSep)
	states := make([]model.DeviceState, 0, len(devices))
	for i, dev := range devices {
		fields := strings.Split(dev, legacyFieldSep)
		if len(fields) != legacyFields {
			return nil, fmt.Errorf("legacy device %d: want %d fields, got %d", i, legacyFields, len(fields))
		}
		connected, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, fmt.Errorf("legacy device %d: connected: %w", i, err)
		}
		battery, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("legacy device %d: battery: %w", i, err)
		}
		states = append(states, model.DeviceState{
			DeviceID:     fields[0],
			DeviceType:   fields[1],
			Connected:    connected,
			BatteryLevel: battery,
			Status:       fields[4],
		})
	}
	return states, nil
}

// marshalStrings converts a string list to JSON TEXT for storage.
func marshalStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses JSON TEXT to a string list.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return v, nil
}

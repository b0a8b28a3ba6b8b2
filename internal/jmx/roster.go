package jmx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every roster decoding failure.
var ErrDecode = errors.New("roster unavailable")

// RosterEntry is one NodeManager record from RMNMInfo. Only State drives the
// alert; the rest is kept for diagnostics.
type RosterEntry struct {
	HostName           string  `json:"HostName,omitempty"`
	Rack               string  `json:"Rack,omitempty"`
	State              string  `json:"State"`
	NodeID             string  `json:"NodeId,omitempty"`
	NodeHTTPAddress    string  `json:"NodeHTTPAddress,omitempty"`
	LastHealthUpdate   int64   `json:"LastHealthUpdate,omitempty"`
	HealthReport       string  `json:"HealthReport,omitempty"`
	NodeManagerVersion string  `json:"NodeManagerVersion,omitempty"`
	NumContainers      int     `json:"NumContainers,omitempty"`
	UsedMemoryMB       float64 `json:"UsedMemoryMB,omitempty"`
	AvailableMemoryMB  float64 `json:"AvailableMemoryMB,omitempty"`
}

// DecodeError describes which decoding stage failed.
type DecodeError struct {
	Stage string // "outer" or "inner"
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("convert response to json failed or json doesn't contain needed data (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

type beansEnvelope struct {
	Beans []map[string]json.RawMessage `json:"beans"`
}

// BeanProperty returns the raw JSON value of property from the first bean of
// a /jmx response.
func BeanProperty(body []byte, property string) (json.RawMessage, error) {
	if len(body) == 0 {
		return nil, &DecodeError{Stage: "outer", Err: errors.New("empty response body")}
	}

	var envelope beansEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Stage: "outer", Err: err}
	}
	if len(envelope.Beans) == 0 {
		return nil, &DecodeError{Stage: "outer", Err: errors.New("response has no beans")}
	}

	raw, ok := envelope.Beans[0][property]
	if !ok {
		return nil, &DecodeError{Stage: "outer", Err: fmt.Errorf("bean has no %s property", property)}
	}
	return raw, nil
}

// DecodeRoster decodes a /jmx response whose first bean carries the roster as
// a JSON string holding a JSON array (the value is encoded twice).
func DecodeRoster(body []byte) ([]RosterEntry, error) {
	raw, err := BeanProperty(body, LiveNodeManagersProperty)
	if err != nil {
		return nil, err
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, &DecodeError{Stage: "inner", Err: fmt.Errorf("%s is not a string: %w", LiveNodeManagersProperty, err)}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(encoded), &entries); err != nil {
		return nil, &DecodeError{Stage: "inner", Err: err}
	}

	roster := make([]RosterEntry, 0, len(entries))
	for i, raw := range entries {
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, &DecodeError{Stage: "inner", Err: fmt.Errorf("roster entry %d: %w", i, err)}
		}
		roster = append(roster, entry)
	}
	return roster, nil
}

// decodeEntry requires a State field. The remaining fields are opaque, so a
// type mismatch in one of them doesn't reject the entry.
func decodeEntry(raw json.RawMessage) (RosterEntry, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return RosterEntry{}, err
	}
	stateRaw, ok := fields["State"]
	if !ok {
		return RosterEntry{}, errors.New("no State field")
	}

	var entry RosterEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return RosterEntry{}, err
		}
	}

	var state string
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		state = string(stateRaw)
	}
	entry.State = state
	return entry, nil
}

// EncodeRoster produces a /jmx response body carrying roster, nested the same
// way the ResourceManager does it.
func EncodeRoster(roster []RosterEntry) ([]byte, error) {
	if roster == nil {
		roster = []RosterEntry{}
	}
	inner, err := json.Marshal(roster)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"beans": []map[string]interface{}{
			{
				"name":                   RMNMInfoBean,
				"modelerType":            "org.apache.hadoop.yarn.server.resourcemanager.RMNMInfo",
				LiveNodeManagersProperty: string(inner),
			},
		},
	})
}

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Channel selects which primary sinks a send targets.
type Channel string

const (
	ChannelPixel Channel = "pixel"
	ChannelCAPI  Channel = "capi"
	ChannelBoth  Channel = "both"
)

// ErrInvalidChannel is returned for anything other than pixel, capi or both.
var ErrInvalidChannel = errors.New("channel must be pixel, capi or both")

// ParseChannel parses a channel name case-insensitively.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelPixel:
		return ChannelPixel, nil
	case ChannelCAPI:
		return ChannelCAPI, nil
	case ChannelBoth:
		return ChannelBoth, nil
	}
	return "", ErrInvalidChannel
}

// Includes reports whether c targets the single channel ch.
func (c Channel) Includes(ch Channel) bool {
	return c == ch || c == ChannelBoth
}

// Fault is one kind of deliberate chaos applied to an event.
// New kinds are added here and handled in the injector.
type Fault uint8

const (
	FaultNullPrice Fault = iota
	FaultNullCurrency
	FaultNullEventID
	faultCount
)

var faultNames = [faultCount]string{
	FaultNullPrice:    "price",
	FaultNullCurrency: "currency",
	FaultNullEventID:  "event_id",
}

// ErrUnknownFault is returned when a fault name is not recognized.
var ErrUnknownFault = errors.New("unknown fault")

func (f Fault) String() string {
	if f < faultCount {
		return faultNames[f]
	}
	return fmt.Sprintf("fault(%d)", f)
}

// ParseFault maps a fault name to its kind.
func ParseFault(s string) (Fault, error) {
	for i, name := range faultNames {
		if name == s {
			return Fault(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFault, s)
}

// AllFaults lists every fault kind.
func AllFaults() []Fault {
	out := make([]Fault, 0, faultCount)
	for f := Fault(0); f < faultCount; f++ {
		out = append(out, f)
	}
	return out
}

// FaultSet is a set of fault kinds.
type FaultSet uint32

// With returns the set with f added.
func (s FaultSet) With(f Fault) FaultSet {
	return s | 1<<f
}

// Has reports whether f is in the set.
func (s FaultSet) Has(f Fault) bool {
	return s&(1<<f) != 0
}

// Faults returns the members in declaration order.
func (s FaultSet) Faults() []Fault {
	var out []Fault
	for _, f := range AllFaults() {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// MarshalJSON encodes the set as an object of booleans, e.g. {"price":true}.
func (s FaultSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, faultCount)
	for _, f := range AllFaults() {
		m[f.String()] = s.Has(f)
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts either {"price":true,...} or ["price",...].
func (s *FaultSet) UnmarshalJSON(data []byte) error {
	names, err := decodeNameSet(data)
	if err != nil {
		return err
	}
	var set FaultSet
	for _, name := range names {
		f, err := ParseFault(name)
		if err != nil {
			return err
		}
		set = set.With(f)
	}
	*s = set
	return nil
}

// UserField is one optional user_data signal.
type UserField uint8

const (
	UserFieldEmail UserField = iota
	UserFieldIP
	UserFieldUserAgent
	UserFieldFBP
	UserFieldFBC
	userFieldCount
)

var userFieldNames = [userFieldCount]string{
	UserFieldEmail:     "em",
	UserFieldIP:        "client_ip_address",
	UserFieldUserAgent: "client_user_agent",
	UserFieldFBP:       "fbp",
	UserFieldFBC:       "fbc",
}

var userFieldAliases = map[string]UserField{
	"email": UserFieldEmail,
	"ip":    UserFieldIP,
	"ua":    UserFieldUserAgent,
}

// ErrUnknownUserField is returned when a user_data field name is not recognized.
var ErrUnknownUserField = errors.New("unknown user_data field")

func (f UserField) String() string {
	if f < userFieldCount {
		return userFieldNames[f]
	}
	return fmt.Sprintf("user_field(%d)", f)
}

// ParseUserField maps a field name or short alias to its kind.
func ParseUserField(s string) (UserField, error) {
	for i, name := range userFieldNames {
		if name == s {
			return UserField(i), nil
		}
	}
	if f, ok := userFieldAliases[s]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownUserField, s)
}

// AllUserFields lists every optional user_data field.
func AllUserFields() []UserField {
	out := make([]UserField, 0, userFieldCount)
	for f := UserField(0); f < userFieldCount; f++ {
		out = append(out, f)
	}
	return out
}

// UserFieldSet is a set of user_data fields.
type UserFieldSet uint32

// AllUserFieldSet returns a set containing every field.
func AllUserFieldSet() UserFieldSet {
	var s UserFieldSet
	for _, f := range AllUserFields() {
		s = s.With(f)
	}
	return s
}

// With returns the set with f added.
func (s UserFieldSet) With(f UserField) UserFieldSet {
	return s | 1<<f
}

// Has reports whether f is in the set.
func (s UserFieldSet) Has(f UserField) bool {
	return s&(1<<f) != 0
}

// Fields returns the members in declaration order.
func (s UserFieldSet) Fields() []UserField {
	var out []UserField
	for _, f := range AllUserFields() {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// MarshalJSON encodes the set as a list of field names.
func (s UserFieldSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, userFieldCount)
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts either ["em",...] or {"em":true,...}.
func (s *UserFieldSet) UnmarshalJSON(data []byte) error {
	names, err := decodeNameSet(data)
	if err != nil {
		return err
	}
	var set UserFieldSet
	for _, name := range names {
		f, err := ParseUserField(name)
		if err != nil {
			return err
		}
		set = set.With(f)
	}
	*s = set
	return nil
}

// decodeNameSet reads a JSON list of names, or an object whose true-valued
// keys are the names. null decodes to an empty set.
func decodeNameSet(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return nil, err
		}
		return names, nil
	}

	var flags map[string]bool
	if err := json.Unmarshal(trimmed, &flags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(flags))
	for name, on := range flags {
		if on {
			names = append(names, name)
		}
	}
	return names, nil
}

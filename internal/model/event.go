package model

import (
	"errors"
	"regexp"
)

// EventName identifies a simulated commerce event.
type EventName string

const (
	EventPageView             EventName = "PageView"
	EventViewContent          EventName = "ViewContent"
	EventSearch               EventName = "Search"
	EventAddToCart            EventName = "AddToCart"
	EventAddToWishlist        EventName = "AddToWishlist"
	EventInitiateCheckout     EventName = "InitiateCheckout"
	EventAddPaymentInfo       EventName = "AddPaymentInfo"
	EventPurchase             EventName = "Purchase"
	EventLead                 EventName = "Lead"
	EventCompleteRegistration EventName = "CompleteRegistration"
)

// ActionSourceWebsite is the only action source this simulator emits.
const ActionSourceWebsite = "website"

// ErrInvalidEventName is returned for empty or malformed event names.
var ErrInvalidEventName = errors.New("invalid event name")

var knownEvents = map[EventName]bool{
	EventPageView:             true,
	EventViewContent:          true,
	EventSearch:               true,
	EventAddToCart:            true,
	EventAddToWishlist:        true,
	EventInitiateCheckout:     true,
	EventAddPaymentInfo:       true,
	EventPurchase:             true,
	EventLead:                 true,
	EventCompleteRegistration: true,
}

// customEventPattern bounds custom event names to what ad platforms accept.
var customEventPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,39}$`)

// ParseEventName validates a standard or custom event name.
func ParseEventName(s string) (EventName, error) {
	name := EventName(s)
	if knownEvents[name] || customEventPattern.MatchString(s) {
		return name, nil
	}
	return "", ErrInvalidEventName
}

// IsStandard reports whether the name is one of the predefined events.
func (n EventName) IsStandard() bool {
	return knownEvents[n]
}

// UserData holds optional identity signals. Empty fields are omitted.
type UserData struct {
	Email           string `json:"em,omitempty"`
	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
}

// Get returns the value of a single field.
func (u UserData) Get(f UserField) string {
	switch f {
	case UserFieldEmail:
		return u.Email
	case UserFieldIP:
		return u.ClientIPAddress
	case UserFieldUserAgent:
		return u.ClientUserAgent
	case UserFieldFBP:
		return u.FBP
	case UserFieldFBC:
		return u.FBC
	}
	return ""
}

// Drop removes a single field.
func (u *UserData) Drop(f UserField) {
	switch f {
	case UserFieldEmail:
		u.Email = ""
	case UserFieldIP:
		u.ClientIPAddress = ""
	case UserFieldUserAgent:
		u.ClientUserAgent = ""
	case UserFieldFBP:
		u.FBP = ""
	case UserFieldFBC:
		u.FBC = ""
	}
}

// Present returns the fields that currently carry a value.
func (u UserData) Present() UserFieldSet {
	var set UserFieldSet
	for _, f := range AllUserFields() {
		if u.Get(f) != "" {
			set = set.With(f)
		}
	}
	return set
}

// CustomData is the commerce payload of an event.
// Value, Currency and Price serialize as null when absent.
type CustomData struct {
	ContentIDs  []string          `json:"content_ids"`
	ContentType string            `json:"content_type"`
	ContentName string            `json:"content_name,omitempty"`
	Value       Nullable[float64] `json:"value"`
	Currency    Nullable[string]  `json:"currency"`
	Price       Nullable[float64] `json:"price"`
	PLTV        *float64          `json:"pltv,omitempty"`
}

// ChannelFields are the values that may differ between Pixel and CAPI sends
// of the same logical event.
type ChannelFields struct {
	EventID  Nullable[string]
	Currency Nullable[string]
}

// Event is one simulated commerce event in its canonical form.
type Event struct {
	EventName      EventName        `json:"event_name"`
	EventTime      int64            `json:"event_time"`
	EventID        Nullable[string] `json:"event_id"`
	ActionSource   string           `json:"action_source"`
	EventSourceURL string           `json:"event_source_url,omitempty"`
	UserData       UserData         `json:"user_data"`
	CustomData     CustomData       `json:"custom_data"`

	// SKU is the catalog reference the event was built from.
	SKU string `json:"-"`

	Pixel ChannelFields `json:"-"`
	CAPI  ChannelFields `json:"-"`
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	out := e
	if e.CustomData.ContentIDs != nil {
		out.CustomData.ContentIDs = append([]string(nil), e.CustomData.ContentIDs...)
	}
	if e.CustomData.PLTV != nil {
		v := *e.CustomData.PLTV
		out.CustomData.PLTV = &v
	}
	return out
}

// ForChannel returns the payload as sent on one channel, with that
// channel's event id and currency substituted.
func (e Event) ForChannel(ch Channel) Event {
	out := e.Clone()
	var fields ChannelFields
	switch ch {
	case ChannelPixel:
		fields = e.Pixel
	case ChannelCAPI:
		fields = e.CAPI
	default:
		return out
	}
	out.EventID = fields.EventID
	out.CustomData.Currency = fields.Currency
	return out
}

// Session carries request-derived identity signals used to fill user_data.
type Session struct {
	IP        string
	UserAgent string
	FBP       string
	FBC       string
}

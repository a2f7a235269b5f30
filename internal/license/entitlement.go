package license

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "cardkeyd/internal/errors"
)

// Entitlement is the card-key grant returned by the verification service.
// Fields the engine does not interpret are preserved in Extra so a cached
// record round-trips without losing server-supplied data.
type Entitlement struct {
	Key        string `json:"key"`
	CardType   string `json:"cardType"`
	ValidDays  int    `json:"validDays"`
	UseTime    string `json:"useTime"`
	ExpiryTime string `json:"expiryTime"`

	Extra map[string]json.RawMessage `json:"-"`
}

var entitlementFields = map[string]struct{}{
	"key": {}, "cardType": {}, "validDays": {}, "useTime": {}, "expiryTime": {},
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (e *Entitlement) UnmarshalJSON(data []byte) error {
	type known struct {
		Key        string `json:"key"`
		CardType   string `json:"cardType"`
		ValidDays  int    `json:"validDays"`
		UseTime    string `json:"useTime"`
		ExpiryTime string `json:"expiryTime"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name := range entitlementFields {
		delete(raw, name)
	}
	if len(raw) == 0 {
		raw = nil
	}

	e.Key = k.Key
	e.CardType = k.CardType
	e.ValidDays = k.ValidDays
	e.UseTime = k.UseTime
	e.ExpiryTime = k.ExpiryTime
	e.Extra = raw
	return nil
}

// MarshalJSON re-emits the known fields merged with the preserved extras.
func (e Entitlement) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Extra)+5)
	for name, raw := range e.Extra {
		out[name] = raw
	}
	put := func(name string, v interface{}) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[name] = raw
		return nil
	}
	if err := put("key", e.Key); err != nil {
		return nil, err
	}
	if err := put("cardType", e.CardType); err != nil {
		return nil, err
	}
	if err := put("validDays", e.ValidDays); err != nil {
		return nil, err
	}
	if err := put("useTime", e.UseTime); err != nil {
		return nil, err
	}
	if err := put("expiryTime", e.ExpiryTime); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ExpiryParseError reports an expiry string no parsing strategy accepted.
// Records carrying one are treated as expired.
type ExpiryParseError struct {
	Value string
}

func (e *ExpiryParseError) Error() string {
	return fmt.Sprintf("unparseable expiry time %q", e.Value)
}

func (e *ExpiryParseError) Unwrap() error {
	return apperrors.ErrExpiryUnparseable
}

// expiryLayouts are tried in order; the first successful parse wins.
// Zoneless layouts are interpreted in local time, matching how the
// verification service reports expiry.
var expiryLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry parses an expiry timestamp using the ordered strategy list:
// RFC 3339 with zone, ISO without zone, space-separated date-time, bare
// date, and finally the date prefix of a longer string.
func ParseExpiry(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &ExpiryParseError{Value: value}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	if len(value) > 10 {
		if t, err := time.ParseInLocation("2006-01-02", value[:10], time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ExpiryParseError{Value: value}
}

// ExpiresAt returns the parsed expiry time of the entitlement.
func (e *Entitlement) ExpiresAt() (time.Time, error) {
	return ParseExpiry(e.ExpiryTime)
}

// ValidAt reports whether the entitlement is unexpired at the given instant.
// An unparseable or missing expiry counts as expired.
func (e *Entitlement) ValidAt(now time.Time) bool {
	expiry, err := e.ExpiresAt()
	if err != nil {
		return false
	}
	return expiry.After(now)
}

// DaysRemaining returns the whole days until expiry, clamped at zero.
// Unparseable expiry counts as zero.
func (e *Entitlement) DaysRemaining(now time.Time) int {
	expiry, err := e.ExpiresAt()
	if err != nil {
		return 0
	}
	days := int(expiry.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// CacheRecord is what the trust cache persists: a verification result bound
// to the hardware fingerprint that earned it.
type CacheRecord struct {
	HardwareID  string       `json:"hardware_id"`
	SavedAt     time.Time    `json:"saved_at"`
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	BoundKey    string       `json:"verified_key,omitempty"`
	Entitlement *Entitlement `json:"data,omitempty"`
}

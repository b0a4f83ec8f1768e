package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that decodes from text. Both Go duration
// strings ("250ms", "1m30s") and bare integers, read as seconds, are
// accepted so env overrides like INSIGHTD_SERVER_SHUTDOWN_TIMEOUT=15 work.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return fmt.Errorf("duration cannot be negative: %s", s)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds a credential such as an instrumentation key. Every printing
// or encoding path yields a mask; only Value exposes the raw string.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Masked reports the length of the secret without its content, which is
// enough to tell a truncated key from a complete one in logs.
func (s Secret) Masked() string {
	return "[REDACTED:" + strconv.Itoa(len(s)) + "]"
}

func (s Secret) GoString() string { return "Secret([REDACTED])" }

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText stores text verbatim.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

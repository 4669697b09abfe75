package job

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Reserved payload keys.
const (
	KeyAppID        = "appId"
	KeyBasePath     = "basePath"
	KeyRunStartedAt = "runStartedAt"
	KeyAttempt      = "attempt"
	KeyPhase        = "phase"
	KeyPhaseMessage = "phaseMessage"
)

// Payload is the open key/value bag carried by a job.
type Payload map[string]Value

// Clone returns a deep copy. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v.clone()
	}
	return out
}

// Text returns the trimmed text form of key, or "" when absent or null.
func (p Payload) Text(key string) string {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

// AppID returns the application this job deploys, or "".
func (p Payload) AppID() string {
	return p.Text(KeyAppID)
}

// Equal reports deep equality.
func (p Payload) Equal(o Payload) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return Object(p).MarshalJSON()
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := PayloadFromMap(raw)
	if err != nil {
		return err
	}
	*p = out
	return nil
}

// PayloadFromMap converts a decoded JSON object into a Payload.
func PayloadFromMap(raw map[string]any) (Payload, error) {
	out := make(Payload, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

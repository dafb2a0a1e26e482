package poli

import (
	"encoding/json"
	"strconv"
)

// The CRM is inconsistent about where a contact id lives in its responses:
// creation success bodies, conflict error bodies and fetches all nest it
// differently across tenants and API versions. Extraction is an ordered list
// of pure strategies over the decoded body; the first hit wins.

type idStrategy func(map[string]any) (string, bool)

var contactIDStrategies = []idStrategy{
	atPath("id"),
	atPath("data", "id"),
	atPath("contact", "id"),
	atPath("data", "contact", "id"),
	atPath("error", "contact_id"),
	atPath("error", "contact", "id"),
	atPath("errors", "contact_id"),
	atPath("message", "contact", "id"),
}

// ExtractContactID digs a contact id out of an arbitrary response body.
func ExtractContactID(body []byte) (string, bool) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", false
	}

	for _, strategy := range contactIDStrategies {
		if id, ok := strategy(decoded); ok {
			return id, true
		}
	}
	return "", false
}

func atPath(path ...string) idStrategy {
	return func(body map[string]any) (string, bool) {
		var current any = body
		for _, key := range path {
			obj, ok := current.(map[string]any)
			if !ok {
				return "", false
			}
			current, ok = obj[key]
			if !ok {
				return "", false
			}
		}
		return asID(current)
	}
}

// asID normalizes the id value: the CRM returns numbers or strings
// interchangeably.
func asID(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatInt(int64(v), 10), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// unwrapData tolerates one or two levels of {"data": ...} nesting around an
// object payload and returns the innermost object.
func unwrapData(body []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}

	for i := 0; i < 2; i++ {
		inner, ok := decoded["data"].(map[string]any)
		if !ok {
			break
		}
		decoded = inner
	}
	return decoded, nil
}

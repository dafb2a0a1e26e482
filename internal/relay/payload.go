// Package relay orchestrates the lead pipeline: webhook payload extraction,
// deduplication, contact resolution, operator assignment and templated
// dispatch into the CRM.
package relay

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"leadrelay_backend/platform/phone"
)

// Lead is the normalized inbound lead after payload extraction.
type Lead struct {
	Name         string `json:"name" validate:"required"`
	PhoneDigits  string `json:"phone_digits" validate:"required"`
	PropertyCode string `json:"property_code" validate:"required"`
	Email        string `json:"email,omitempty"`
	CPF          string `json:"cpf,omitempty"`
	OriginLeadID string `json:"origin_lead_id,omitempty"`
	Attempt      int    `json:"attempt,omitempty"`
}

// The portal changes its payload shape without notice: fields arrive flat,
// under "lead", or under "data", and names drift between exports. Each
// logical field has an ordered candidate list; the first non-empty hit wins.
var fieldCandidates = map[string][][]string{
	"name": {
		{"name"}, {"lead", "name"}, {"data", "name"}, {"client", "name"},
		{"data", "lead", "name"},
	},
	"phone": {
		{"phone"}, {"phoneNumber"}, {"lead", "phone"}, {"data", "phone"},
		{"client", "phone"}, {"data", "lead", "phone"},
	},
	"propertyCode": {
		{"clientListingId"}, {"listingId"}, {"propertyCode"}, {"adId"},
		{"lead", "clientListingId"}, {"data", "clientListingId"},
		{"data", "listingId"},
	},
	"email": {
		{"email"}, {"lead", "email"}, {"data", "email"}, {"client", "email"},
	},
	"cpf": {
		{"cpf"}, {"lead", "cpf"}, {"data", "cpf"}, {"client", "cpf"},
	},
	"originLeadID": {
		{"leadId"}, {"lead_id"}, {"id"}, {"lead", "id"}, {"data", "leadId"},
		{"data", "id"},
	},
}

// ParseLead decodes a webhook body into a Lead. ok is false for payloads
// carrying no lead-identifying fields (portal pings, test deliveries), which
// callers acknowledge without processing.
func ParseLead(body []byte) (Lead, bool, error) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Lead{}, false, err
	}

	lead := Lead{
		Name:         extractField(decoded, "name"),
		Email:        extractField(decoded, "email"),
		CPF:          extractField(decoded, "cpf"),
		PropertyCode: extractField(decoded, "propertyCode"),
		OriginLeadID: extractField(decoded, "originLeadID"),
	}
	if raw := extractField(decoded, "phone"); raw != "" {
		lead.PhoneDigits = phone.Digits(raw)
	}

	if lead.Name == "" && lead.PhoneDigits == "" && lead.OriginLeadID == "" {
		return Lead{}, false, nil
	}
	return lead, true, nil
}

func extractField(decoded map[string]any, field string) string {
	for _, path := range fieldCandidates[field] {
		if value := valueAtPath(decoded, path); value != "" {
			return value
		}
	}
	return ""
}

func valueAtPath(decoded map[string]any, path []string) string {
	var current any = decoded
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[key]
		if !ok {
			return ""
		}
	}
	return stringValue(current)
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

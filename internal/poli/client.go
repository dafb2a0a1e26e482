// Package poli is the HTTP adapter for the Poli Digital CRM/messaging
// platform: contact create-or-fetch, operator assignment and templated
// WhatsApp dispatch, each write wrapped with bounded retries.
package poli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadrelay_backend/platform/config"
	"leadrelay_backend/platform/logger"
)

// Sentinel errors mapped by the relay orchestrator.
var (
	// ErrContactCreation means no contact id was recoverable from either the
	// creation success response or the conflict error body.
	ErrContactCreation = errors.New("contact creation failed: no contact id recoverable")
	// ErrContactNotFound means the CRM has no contact under the given id.
	ErrContactNotFound = errors.New("contact not found")
	// ErrTemplateRejected means the CRM accepted the HTTP call but flagged
	// the dispatch as not sent. Never retried: a retry could double-message
	// the recipient.
	ErrTemplateRejected = errors.New("template message accepted but not sent")
)

// Contact mirrors the CRM fields this system reads or writes.
type Contact struct {
	ID         string
	Name       string
	Phone      string
	CPF        string
	Email      string
	OperatorID string // empty when unassigned
	Channels   []Channel
}

// Channel is an external messaging channel attached to a contact.
type Channel struct {
	ID string
}

// Receipt is the CRM's answer to a template dispatch.
type Receipt struct {
	ChatID    string
	MessageID string
	Success   bool
	Sent      bool
}

// SendParams describes one template dispatch. Params are positional:
// contact display name first, operator display name second.
type SendParams struct {
	ContactID   string
	OperatorID  string
	TemplateID  string
	FirstParam  string
	SecondParam string
	ChannelID   string
}

// Client talks to the Poli Digital API for one customer/tenant.
type Client struct {
	baseURL    string
	mgmtURL    string
	token      string
	customerID string
	backoff    []time.Duration
	http       *http.Client
	log        *logger.Logger
}

// NewClient creates a CRM client from configuration.
func NewClient(cfg config.PoliConfig, log *logger.Logger) *Client {
	mgmtURL := cfg.GetPoliManagementURL()
	if mgmtURL == "" {
		mgmtURL = cfg.GetPoliBaseURL()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.GetPoliBaseURL(), "/"),
		mgmtURL:    strings.TrimRight(mgmtURL, "/"),
		token:      cfg.GetPoliToken(),
		customerID: cfg.GetPoliCustomerID(),
		backoff:    cfg.GetRetryBackoff(),
		http:       &http.Client{Timeout: cfg.GetHTTPTimeout()},
		log:        log,
	}
}

func (c *Client) contactsURL(parts ...string) string {
	base := fmt.Sprintf("%s/customers/%s/contacts", c.baseURL, c.customerID)
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

// EnsureContact creates the contact, or recovers the existing contact id
// from the CRM's conflict response when it already exists.
func (c *Client) EnsureContact(ctx context.Context, name, phoneDigits, cpf, email string) (string, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("phone", phoneDigits)
	if cpf != "" {
		form.Set("cpf", cpf)
	}
	if email != "" {
		form.Set("email", email)
	}

	var contactID string
	err := withRetry(ctx, c.backoff, func() error {
		status, body, err := c.do(ctx, http.MethodPost, c.contactsURL(), "application/x-www-form-urlencoded", []byte(form.Encode()))
		if err != nil {
			return err
		}

		if status >= 500 {
			return &statusError{status: status, body: truncate(body)}
		}

		// Success and conflict bodies alike may carry the id, in varying
		// shapes; recover it from whichever arrived.
		if id, ok := ExtractContactID(body); ok {
			contactID = id
			return nil
		}
		if status < 300 {
			return fmt.Errorf("%w: 2xx response without id", ErrContactCreation)
		}
		return fmt.Errorf("%w: %s", ErrContactCreation, truncate(body))
	})
	if err != nil {
		return "", err
	}

	return contactID, nil
}

// GetContact fetches contact details, tolerating the CRM's wrapped and flat
// response shapes.
func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	var contact Contact
	err := withRetry(ctx, c.backoff, func() error {
		status, body, err := c.do(ctx, http.MethodGet, c.contactsURL(id), "", nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return ErrContactNotFound
		}
		if status >= 300 {
			return &statusError{status: status, body: truncate(body)}
		}

		parsed, err := parseContact(body)
		if err != nil {
			return fmt.Errorf("decode contact %s: %w", id, err)
		}
		contact = parsed
		return nil
	})
	return contact, err
}

// UpdateContact writes the given fields. The CRM is inconsistent about
// accepted content types across tenants, so a rejected JSON update is
// replayed form-encoded before giving up.
func (c *Client) UpdateContact(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	jsonBody, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	return withRetry(ctx, c.backoff, func() error {
		status, body, err := c.do(ctx, http.MethodPut, c.contactsURL(id), "application/json", jsonBody)
		if err != nil {
			return err
		}
		if status < 300 {
			return nil
		}
		if status >= 500 {
			return &statusError{status: status, body: truncate(body)}
		}

		form := url.Values{}
		for key, value := range fields {
			form.Set(key, value)
		}
		status, body, err = c.do(ctx, http.MethodPut, c.contactsURL(id), "application/x-www-form-urlencoded", []byte(form.Encode()))
		if err != nil {
			return err
		}
		if status >= 300 {
			return &statusError{status: status, body: truncate(body)}
		}
		return nil
	})
}

// AssignOperator redirects the contact to the given operator.
func (c *Client) AssignOperator(ctx context.Context, contactID, operatorID string) error {
	payload, err := json.Marshal(map[string]any{"user_id": idValue(operatorID)})
	if err != nil {
		return err
	}

	return withRetry(ctx, c.backoff, func() error {
		status, body, err := c.do(ctx, http.MethodPost, c.contactsURL(contactID, "redirect"), "application/json", payload)
		if err != nil {
			return err
		}
		if status >= 300 {
			return &statusError{status: status, body: truncate(body)}
		}
		return nil
	})
}

// SendTemplate dispatches a quick message template through the contact's
// channel. A 2xx response flagged success=false or send=false is a terminal
// rejection.
func (c *Client) SendTemplate(ctx context.Context, p SendParams) (Receipt, error) {
	params, err := json.Marshal([]string{p.FirstParam, p.SecondParam})
	if err != nil {
		return Receipt{}, err
	}

	form := url.Values{}
	form.Set("quick_message_id", p.TemplateID)
	form.Set("user_id", p.OperatorID)
	form.Set("channel_id", p.ChannelID)
	form.Set("params", string(params))

	var receipt Receipt
	err = withRetry(ctx, c.backoff, func() error {
		status, body, err := c.do(ctx, http.MethodPost, c.contactsURL(p.ContactID, "quick-messages"), "application/x-www-form-urlencoded", []byte(form.Encode()))
		if err != nil {
			return err
		}
		if status >= 300 {
			return &statusError{status: status, body: truncate(body)}
		}

		parsed, err := parseReceipt(body)
		if err != nil {
			return fmt.Errorf("decode dispatch receipt: %w", err)
		}
		if !parsed.Success || !parsed.Sent {
			return ErrTemplateRejected
		}
		receipt = parsed
		return nil
	})
	return receipt, err
}

// OnlineOperators fetches live operator availability from the management
// endpoint. Any failure degrades to nil: availability is advisory and must
// never block assignment.
func (c *Client) OnlineOperators(ctx context.Context) map[string]bool {
	endpoint := fmt.Sprintf("%s/customers/%s/users", c.mgmtURL, c.customerID)

	status, body, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil || status >= 300 {
		if c.log != nil {
			if err == nil {
				err = &statusError{status: status, body: truncate(body)}
			}
			c.log.Warn("operator availability unavailable", "error", err.Error())
		}
		return nil
	}

	users, err := parseUsers(body)
	if err != nil {
		if c.log != nil {
			c.log.Warn("operator availability unparseable", "error", err.Error())
		}
		return nil
	}
	return users
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func parseContact(body []byte) (Contact, error) {
	obj, err := unwrapData(body)
	if err != nil {
		return Contact{}, err
	}

	contact := Contact{
		Name:  asString(obj["name"]),
		Phone: asString(obj["phone"]),
		CPF:   asString(obj["cpf"]),
		Email: asString(obj["email"]),
	}
	if id, ok := asID(obj["id"]); ok {
		contact.ID = id
	}
	if operator, ok := asID(obj["user_id"]); ok {
		contact.OperatorID = operator
	}

	if channels, ok := obj["channels"].([]any); ok {
		for _, raw := range channels {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := asID(entry["id"]); ok {
				contact.Channels = append(contact.Channels, Channel{ID: id})
			}
		}
	}

	return contact, nil
}

func parseReceipt(body []byte) (Receipt, error) {
	obj, err := unwrapData(body)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		Success: boolLike(obj["success"], true),
		Sent:    boolLike(obj["send"], true),
	}
	if id, ok := asID(obj["chat_id"]); ok {
		receipt.ChatID = id
	}
	if id, ok := asID(obj["message_id"]); ok {
		receipt.MessageID = id
	}
	return receipt, nil
}

func parseUsers(body []byte) (map[string]bool, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}

	list, ok := decoded.([]any)
	if !ok {
		obj, objOK := decoded.(map[string]any)
		if !objOK {
			return nil, fmt.Errorf("unexpected users payload")
		}
		list, ok = obj["data"].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected users payload")
		}
	}

	users := make(map[string]bool, len(list))
	for _, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, ok := asID(entry["id"])
		if !ok {
			continue
		}
		available := boolLike(entry["available"], false) || boolLike(entry["online"], false)
		users[id] = available
	}
	return users, nil
}

// boolLike interprets the CRM's boolean-ish values: bool, 0/1, "true"/"1",
// "online". The fallback applies when the field is absent.
func boolLike(value any, fallback bool) bool {
	switch v := value.(type) {
	case nil:
		return fallback
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "1" || s == "true" || s == "online" || s == "yes"
	default:
		return fallback
	}
}

// idValue renders numeric operator ids as JSON numbers, matching what the
// CRM expects in redirect payloads.
func idValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func asString(value any) string {
	s, _ := value.(string)
	return s
}

func truncate(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}

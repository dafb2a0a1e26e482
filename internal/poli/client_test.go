package poli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

type fakePoliConfig struct {
	baseURL string
	mgmtURL string
}

func (f fakePoliConfig) GetPoliBaseURL() string       { return f.baseURL }
func (f fakePoliConfig) GetPoliManagementURL() string { return f.mgmtURL }
func (f fakePoliConfig) GetPoliToken() string         { return "test-token" }
func (f fakePoliConfig) GetPoliCustomerID() string    { return "77" }
func (f fakePoliConfig) GetPoliChannelID() string     { return "9" }
func (f fakePoliConfig) GetHTTPTimeout() time.Duration {
	return 2 * time.Second
}
func (f fakePoliConfig) GetRetryBackoff() []time.Duration {
	return []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(fakePoliConfig{baseURL: srv.URL, mgmtURL: srv.URL}, nil), srv
}

func TestEnsureContactCreated(t *testing.T) {
	var gotAuth, gotPhone string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/customers/77/contacts" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotPhone = r.PostFormValue("phone")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":41523,"name":"Joao"}}`))
	}))

	id, err := client.EnsureContact(context.Background(), "Joao", "5511999887766", "", "")
	if err != nil {
		t.Fatalf("EnsureContact: %v", err)
	}
	if id != "41523" {
		t.Fatalf("id = %q, want 41523", id)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPhone != "5511999887766" {
		t.Fatalf("phone = %q", gotPhone)
	}
}

func TestEnsureContactRecoversIDFromConflict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"contact_id":"8812","message":"phone already registered"}}`))
	}))

	id, err := client.EnsureContact(context.Background(), "Maria", "5511988776655", "", "")
	if err != nil {
		t.Fatalf("EnsureContact: %v", err)
	}
	if id != "8812" {
		t.Fatalf("id = %q, want 8812", id)
	}
}

func TestEnsureContactFailsWhenNoIDRecoverable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
	}))

	_, err := client.EnsureContact(context.Background(), "Maria", "123", "", "")
	if !errors.Is(err, ErrContactCreation) {
		t.Fatalf("err = %v, want ErrContactCreation", err)
	}
}

func TestEnsureContactRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.EnsureContact(context.Background(), "Joao", "5511999887766", "", "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("upstream calls = %d, want 3", got)
	}
}

func TestEnsureContactDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}))

	_, err := client.EnsureContact(context.Background(), "Joao", "5511999887766", "", "")
	if !errors.Is(err, ErrContactCreation) {
		t.Fatalf("err = %v, want ErrContactCreation", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestGetContactWrappedPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/77/contacts/41523" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"data":{"id":41523,"name":"JOAO SILVA","phone":"5511999887766","user_id":12,"channels":[{"id":9},{"id":"10"}]}}}`))
	}))

	contact, err := client.GetContact(context.Background(), "41523")
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.ID != "41523" || contact.Name != "JOAO SILVA" || contact.OperatorID != "12" {
		t.Fatalf("contact = %+v", contact)
	}
	if len(contact.Channels) != 2 || contact.Channels[0].ID != "9" || contact.Channels[1].ID != "10" {
		t.Fatalf("channels = %+v", contact.Channels)
	}
}

func TestGetContactNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetContact(context.Background(), "999")
	if !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("err = %v, want ErrContactNotFound", err)
	}
}

func TestUpdateContactFallsBackToForm(t *testing.T) {
	var contentTypes []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		if r.Header.Get("Content-Type") == "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostFormValue("name") != "Joao Silva" {
			t.Fatalf("form name = %q", r.PostFormValue("name"))
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := client.UpdateContact(context.Background(), "41523", map[string]string{"name": "Joao Silva"})
	if err != nil {
		t.Fatalf("UpdateContact: %v", err)
	}
	if len(contentTypes) != 2 || contentTypes[0] != "application/json" {
		t.Fatalf("content types = %v", contentTypes)
	}
}

func TestUpdateContactNoFieldsIsNoop(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	if err := client.UpdateContact(context.Background(), "41523", nil); err != nil {
		t.Fatalf("UpdateContact: %v", err)
	}
}

func TestAssignOperatorSendsNumericID(t *testing.T) {
	var body string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/77/contacts/41523/redirect" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		buf, _ := io.ReadAll(r.Body)
		body = string(buf)
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.AssignOperator(context.Background(), "41523", "12"); err != nil {
		t.Fatalf("AssignOperator: %v", err)
	}
	if body != `{"user_id":12}` {
		t.Fatalf("body = %s", body)
	}
}

func TestSendTemplateSuccess(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm
		_, _ = w.Write([]byte(`{"data":{"success":true,"send":true,"chat_id":555,"message_id":"abc"}}`))
	}))

	receipt, err := client.SendTemplate(context.Background(), SendParams{
		ContactID:   "41523",
		OperatorID:  "12",
		TemplateID:  "tpl-1",
		FirstParam:  "Joao Silva",
		SecondParam: "Ana",
		ChannelID:   "9",
	})
	if err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if receipt.ChatID != "555" || receipt.MessageID != "abc" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if form.Get("quick_message_id") != "tpl-1" || form.Get("params") != `["Joao Silva","Ana"]` {
		t.Fatalf("form = %v", form)
	}
}

func TestSendTemplateRejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":false,"send":false}`))
	}))

	_, err := client.SendTemplate(context.Background(), SendParams{ContactID: "1", TemplateID: "tpl-1"})
	if !errors.Is(err, ErrTemplateRejected) {
		t.Fatalf("err = %v, want ErrTemplateRejected", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestOnlineOperators(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/77/users" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":12,"available":true},{"id":13,"available":false},{"id":"14","online":"online"}]}`))
	}))

	live := client.OnlineOperators(context.Background())
	want := map[string]bool{"12": true, "13": false, "14": true}
	for id, avail := range want {
		if live[id] != avail {
			t.Fatalf("live[%s] = %v, want %v (full: %v)", id, live[id], avail, live)
		}
	}
}

func TestOnlineOperatorsDegradesToNil(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if live := client.OnlineOperators(context.Background()); live != nil {
		t.Fatalf("live = %v, want nil", live)
	}
}

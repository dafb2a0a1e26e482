package relay

import "testing"

func TestParseLeadFlatPayload(t *testing.T) {
	body := `{"name":"joão da silva","phone":"+55 11 99988-7766","clientListingId":"AP-1200","email":"joao@example.com","leadId":"olx-991"}`

	lead, ok, err := ParseLead([]byte(body))
	if err != nil || !ok {
		t.Fatalf("ParseLead: ok=%v err=%v", ok, err)
	}
	if lead.Name != "joão da silva" {
		t.Errorf("name = %q", lead.Name)
	}
	if lead.PhoneDigits != "5511999887766" {
		t.Errorf("phone = %q", lead.PhoneDigits)
	}
	if lead.PropertyCode != "AP-1200" {
		t.Errorf("property code = %q", lead.PropertyCode)
	}
	if lead.OriginLeadID != "olx-991" {
		t.Errorf("origin lead id = %q", lead.OriginLeadID)
	}
}

func TestParseLeadNestedPayload(t *testing.T) {
	body := `{"data":{"lead":{"name":"Maria","phone":"11988776655"},"clientListingId":9981}}`

	lead, ok, err := ParseLead([]byte(body))
	if err != nil || !ok {
		t.Fatalf("ParseLead: ok=%v err=%v", ok, err)
	}
	if lead.Name != "Maria" {
		t.Errorf("name = %q", lead.Name)
	}
	if lead.PhoneDigits != "5511988776655" {
		t.Errorf("phone = %q", lead.PhoneDigits)
	}
	if lead.PropertyCode != "9981" {
		t.Errorf("property code = %q", lead.PropertyCode)
	}
}

func TestParseLeadFirstCandidateWins(t *testing.T) {
	body := `{"clientListingId":"CL-1","listingId":"L-2","propertyCode":"P-3","name":"x","phone":"11999887766"}`

	lead, _, err := ParseLead([]byte(body))
	if err != nil {
		t.Fatalf("ParseLead: %v", err)
	}
	if lead.PropertyCode != "CL-1" {
		t.Errorf("property code = %q, want CL-1", lead.PropertyCode)
	}
}

func TestParseLeadPing(t *testing.T) {
	for _, body := range []string{`{}`, `{"event":"ping"}`, `{"status":"ok"}`} {
		_, ok, err := ParseLead([]byte(body))
		if err != nil {
			t.Fatalf("ParseLead(%s): %v", body, err)
		}
		if ok {
			t.Errorf("ParseLead(%s) recognized a lead, want ping", body)
		}
	}
}

func TestParseLeadInvalidJSON(t *testing.T) {
	if _, _, err := ParseLead([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseLeadNumericFields(t *testing.T) {
	body := `{"name":"Ana","phone":"11999887766","adId":123456,"id":42}`

	lead, ok, err := ParseLead([]byte(body))
	if err != nil || !ok {
		t.Fatalf("ParseLead: ok=%v err=%v", ok, err)
	}
	if lead.PropertyCode != "123456" {
		t.Errorf("property code = %q", lead.PropertyCode)
	}
	if lead.OriginLeadID != "42" {
		t.Errorf("origin lead id = %q", lead.OriginLeadID)
	}
}

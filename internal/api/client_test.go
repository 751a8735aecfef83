package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coastalguard/beacon/pkg/sos"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:8021", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:8021" {
		t.Errorf("expected baseURL=http://localhost:8021, got %s", c.baseURL)
	}
	if c.secret != "secret123" {
		t.Errorf("expected secret=secret123, got %s", c.secret)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8021/", "secret")
	if c.baseURL != "http://localhost:8021" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("expected path /api/health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	if err := c.Healthcheck(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestSubmitSOS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sos" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Relay-Secret") != "hush" {
			t.Errorf("missing relay secret header")
		}

		var body SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body.BoatNumber != "KL-TVM-4521" || body.ClientSOSID != "SOS-20260828-0001" {
			t.Errorf("unexpected body: %+v", body)
		}

		json.NewEncoder(w).Encode(SubmitResponse{
			Success:    true,
			SOSID:      body.ClientSOSID,
			ReceivedAt: "2026-08-28T06:00:00Z",
		})
	}))
	defer server.Close()

	c := New(server.URL, "hush")
	rec := &sos.Record{
		ID:   "SOS-20260828-0001",
		Type: sos.TypeDistress,
		Origin: sos.Actor{
			ID:          "v1",
			DisplayName: "Arulappan",
			VesselID:    "KL-TVM-4521",
		},
		Position: sos.Position{Lat: 9.4, Lng: 79.2},
	}

	resp, err := c.SubmitSOS(context.Background(), SubmitFromRecord(rec))
	if err != nil {
		t.Fatalf("SubmitSOS: %v", err)
	}
	if resp.SOSID != "SOS-20260828-0001" {
		t.Errorf("sosId = %q", resp.SOSID)
	}
}

func TestSubmitSOS_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "")
	_, err := c.SubmitSOS(context.Background(), SubmitRequest{ClientSOSID: "SOS-1"})
	if err == nil {
		t.Error("expected error on 500")
	}
}

func TestListAlerts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"alerts": []sos.Alert{
				{Record: sos.Record{ID: "SOS-20260828-0001"}, AlertStatus: sos.AlertPending},
				{Record: sos.Record{ID: "SOS-20260828-0002"}, AlertStatus: sos.AlertAcknowledged},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, "")
	alerts, err := c.ListAlerts(context.Background())
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[1].AlertStatus != sos.AlertAcknowledged {
		t.Errorf("alert status = %s", alerts[1].AlertStatus)
	}
}

func TestAcknowledge(t *testing.T) {
	var gotPath, gotBy string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		var body StatusRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotBy = body.By
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Acknowledge(context.Background(), "SOS-20260828-0001", "station-7"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if gotPath != "PATCH /api/sos/SOS-20260828-0001/acknowledge" {
		t.Errorf("request = %q", gotPath)
	}
	if gotBy != "station-7" {
		t.Errorf("by = %q", gotBy)
	}
}

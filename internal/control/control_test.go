package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coastalguard/beacon/internal/engine"
	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/internal/monitor"
	"github.com/coastalguard/beacon/internal/store/memstore"
	"github.com/coastalguard/beacon/internal/transport"
	"github.com/coastalguard/beacon/pkg/sos"
)

// stubChannel always accepts a transmit.
type stubChannel struct{}

func (stubChannel) Name() string  { return "internet" }
func (stubChannel) Priority() int { return 1 }

func (stubChannel) Probe(context.Context) (transport.Availability, error) {
	return transport.Available, nil
}

func (stubChannel) Transmit(_ context.Context, rec *sos.Record) (*transport.Receipt, error) {
	return &transport.Receipt{MessageID: fmt.Sprintf("msg-%s", rec.ID), LatencyMs: 5}, nil
}

func (stubChannel) QueryStatus(context.Context, string) (*transport.DeliveryStatus, error) {
	return &transport.DeliveryStatus{Delivered: true}, nil
}

func (stubChannel) Health() transport.Health {
	return transport.Health{Name: "internet", Priority: 1}
}

func newControlServer(t *testing.T) (*httptest.Server, *engine.Service) {
	t.Helper()

	registry := transport.NewRegistry()
	if err := registry.Register(stubChannel{}); err != nil {
		t.Fatal(err)
	}

	lm := logging.NewSlogManager()
	eng, err := engine.NewService(engine.Dependencies{
		LogManager: lm,
		Store:      memstore.New(0),
		Registry:   registry,
		Monitor:    monitor.NewService(monitor.Dependencies{Registry: registry}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	srv := NewServer(eng, lm.Logger(), ServerConfig{
		ListenAddr: "127.0.0.1:0",
		Identity: sos.Actor{
			ID:          "fisher-7",
			Role:        sos.RoleSender,
			DisplayName: "Ravi",
			VesselID:    "TN-07-1234",
		},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestControlTrigger_StampsIdentityAndDelivers(t *testing.T) {
	ts, _ := newControlServer(t)

	resp := postJSON(t, ts, "/api/sos", TriggerRequest{
		Position: sos.Position{Lat: 9.2885, Lng: 79.3127},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Delivered {
		t.Error("expected inline delivery over the stub channel")
	}
	if out.Record.Status != sos.StatusDelivered {
		t.Errorf("record status = %s, want delivered", out.Record.Status)
	}
	if out.Record.Type != sos.TypeDistress {
		t.Errorf("record type = %s, want default distress", out.Record.Type)
	}
	if out.Record.Origin.VesselID != "TN-07-1234" {
		t.Errorf("origin vessel = %q, want the configured identity", out.Record.Origin.VesselID)
	}
}

func TestControlTrigger_RejectsBadPosition(t *testing.T) {
	ts, _ := newControlServer(t)

	resp := postJSON(t, ts, "/api/sos", TriggerRequest{
		Position: sos.Position{Lat: 91, Lng: 79.3127},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestControlGetDelivery(t *testing.T) {
	ts, eng := newControlServer(t)

	rec, _, err := eng.TriggerSOS(context.Background(), sos.Intent{
		Type:     sos.TypeDistress,
		Origin:   sos.Actor{ID: "fisher-7", Role: sos.RoleSender},
		Position: sos.Position{Lat: 9.2885, Lng: 79.3127},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/sos/" + rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got sos.Record
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != rec.ID || len(got.Delivery.History) == 0 {
		t.Errorf("got id=%s history=%d, want the full record", got.ID, len(got.Delivery.History))
	}

	missing, err := http.Get(ts.URL + "/api/sos/SOS-00000000-9999")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}
}

func TestControlStatus(t *testing.T) {
	ts, eng := newControlServer(t)

	if _, _, err := eng.TriggerSOS(context.Background(), sos.Intent{
		Type:     sos.TypeDistress,
		Origin:   sos.Actor{ID: "fisher-7", Role: sos.RoleSender},
		Position: sos.Position{Lat: 9.2885, Lng: 79.3127},
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if len(status.Channels) != 1 || status.Channels[0].Name != "internet" {
		t.Errorf("channels = %+v, want the registered channel", status.Channels)
	}
	if status.Queue.Delivered != 1 {
		t.Errorf("queue.Delivered = %d, want 1", status.Queue.Delivered)
	}
}

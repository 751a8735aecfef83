package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coastalguard/beacon/internal/api"
	"github.com/coastalguard/beacon/pkg/sos"
)

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

func patchJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPatch, ts.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func submitBody(clientID string) api.SubmitRequest {
	return api.SubmitRequest{
		Type:          string(sos.TypeDistress),
		FishermanID:   "fisher-7",
		FishermanName: "Ravi",
		BoatNumber:    "TN-07-1234",
		Location:      sos.Position{Lat: 9.2885, Lng: 79.3127},
		ClientSOSID:   clientID,
	}
}

func TestRESTHealth(t *testing.T) {
	ts, _ := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf(`status = %v, want "ok"`, body["status"])
	}
}

func TestRESTSubmit(t *testing.T) {
	ts, hub := newTestRelay(t)

	resp := postJSON(t, ts, "/api/sos", submitBody("SOS-20260815-0001"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}

	var out api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Duplicate {
		t.Errorf("response = %+v, want success, not duplicate", out)
	}
	if out.SOSID != "SOS-20260815-0001" {
		t.Errorf("SOSID = %q", out.SOSID)
	}
	if _, ok := hub.deps.Alerts.Get(out.SOSID); !ok {
		t.Error("submitted alert not in cache")
	}
}

func TestRESTSubmit_DuplicateOfUplink(t *testing.T) {
	ts, hub := newTestRelay(t)

	// Delivered over the socket first, then again over REST, as when
	// the vessel's internet channel fails over mid-delivery.
	rec := testRecord("SOS-20260815-0002")
	if _, added, err := hub.Accept(rec, rec.ID); err != nil || !added {
		t.Fatalf("Accept: added=%v err=%v", added, err)
	}

	resp := postJSON(t, ts, "/api/sos", submitBody("SOS-20260815-0002"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate submit status = %d, want 200", resp.StatusCode)
	}

	var out api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Duplicate {
		t.Error("duplicate not flagged")
	}
	if n := hub.deps.Alerts.Len(); n != 1 {
		t.Errorf("cache holds %d alerts, want 1", n)
	}
}

func TestRESTSubmit_RejectsBadPosition(t *testing.T) {
	ts, _ := newTestRelay(t)

	body := submitBody("SOS-20260815-0003")
	body.Location = sos.Position{Lat: 91, Lng: 200}
	resp := postJSON(t, ts, "/api/sos", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRESTListAndGet(t *testing.T) {
	ts, hub := newTestRelay(t)

	for _, id := range []string{"SOS-20260815-0004", "SOS-20260815-0005"} {
		if _, _, err := hub.Accept(testRecord(id), id); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(ts.URL + "/api/sos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Alerts []sos.Alert `json:"alerts"`
		Count  int         `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 || len(list.Alerts) != 2 {
		t.Fatalf("list count = %d (%d alerts), want 2", list.Count, len(list.Alerts))
	}
	// Newest first.
	if list.Alerts[0].ID != "SOS-20260815-0005" {
		t.Errorf("list[0] = %q, want newest", list.Alerts[0].ID)
	}

	one, err := http.Get(ts.URL + "/api/sos/SOS-20260815-0004")
	if err != nil {
		t.Fatal(err)
	}
	defer one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", one.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/api/sos/SOS-none")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", missing.StatusCode)
	}
}

func TestRESTAcknowledgeAndResolve(t *testing.T) {
	ts, hub := newTestRelay(t)

	const id = "SOS-20260815-0006"
	if _, _, err := hub.Accept(testRecord(id), id); err != nil {
		t.Fatal(err)
	}

	resp := patchJSON(t, ts, fmt.Sprintf("/api/sos/%s/acknowledge", id), api.StatusRequest{By: "station-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d", resp.StatusCode)
	}
	var alert sos.Alert
	if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
		t.Fatal(err)
	}
	if alert.AlertStatus != sos.AlertAcknowledged || alert.AcknowledgedBy != "station-1" {
		t.Errorf("after ack: status=%q by=%q", alert.AlertStatus, alert.AcknowledgedBy)
	}

	resp = patchJSON(t, ts, fmt.Sprintf("/api/sos/%s/resolve", id), api.StatusRequest{By: "station-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}

	// Resolved alerts cannot move backwards.
	resp = patchJSON(t, ts, fmt.Sprintf("/api/sos/%s/acknowledge", id), api.StatusRequest{By: "station-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("backwards transition status = %d, want 409", resp.StatusCode)
	}
}

func TestRESTAcknowledge_UnknownAlert(t *testing.T) {
	ts, _ := newTestRelay(t)

	resp := patchJSON(t, ts, "/api/sos/SOS-none/acknowledge", api.StatusRequest{By: "station-1"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

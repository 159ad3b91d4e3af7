package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const testZone = "example.com"

// fakeProvider is an in-memory record API for one zone.
type fakeProvider struct {
	mu      sync.Mutex
	token   string
	records []Record
	writes  int
	nextID  int
	server  *httptest.Server
}

func newFakeProvider(t *testing.T, seed ...Record) *fakeProvider {
	t.Helper()
	f := &fakeProvider{token: "edge-secret"}
	for _, record := range seed {
		f.nextID++
		record.ID = fmt.Sprintf("rec-%d", f.nextID)
		f.records = append(f.records, record)
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProvider) client() *Client {
	return NewClient(f.server.URL, f.token)
}

func (f *fakeProvider) snapshot() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.records...)
}

func (f *fakeProvider) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"unauthorized"}`)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/zones/"+testZone+"/records")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"unknown zone"}`)
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(map[string]any{"records": f.records})
	case rest == "" && r.Method == http.MethodPost:
		var record Record
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.nextID++
		record.ID = fmt.Sprintf("rec-%d", f.nextID)
		f.records = append(f.records, record)
		f.writes++
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"record": record})
	case strings.HasPrefix(rest, "/") && r.Method == http.MethodPut:
		id := strings.TrimPrefix(rest, "/")
		for i := range f.records {
			if f.records[i].ID != id {
				continue
			}
			var record Record
			if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			record.ID = id
			f.records[i] = record
			f.writes++
			json.NewEncoder(w).Encode(map[string]any{"record": record})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"record not found"}`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestListRecords(t *testing.T) {
	provider := newFakeProvider(t,
		Record{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com", Proxied: true},
		Record{Name: "nas.example.com", Type: "A", Value: "10.0.0.7", TTL: 300},
	)

	records, err := provider.client().ListRecords(context.Background(), testZone)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "rec-1" || records[1].ID != "rec-2" {
		t.Errorf("record IDs = %q, %q", records[0].ID, records[1].ID)
	}
	if records[1].TTL != 300 {
		t.Errorf("TTL = %d, want 300", records[1].TTL)
	}
}

func TestSyncCreatesMissing(t *testing.T) {
	provider := newFakeProvider(t)

	desired := []Record{
		{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com", Proxied: true},
		{Name: "grafana.example.com", Type: "CNAME", Value: "edge.example.com", Proxied: true},
	}

	result, err := provider.client().Sync(context.Background(), testZone, desired)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(result.Created) != 2 || len(result.Updated) != 0 || len(result.Unchanged) != 0 {
		t.Fatalf("result = %d created, %d updated, %d unchanged", len(result.Created), len(result.Updated), len(result.Unchanged))
	}
	for _, record := range result.Created {
		if record.ID == "" {
			t.Errorf("created record %s has no ID", record.Name)
		}
	}
	if got := provider.snapshot(); len(got) != 2 {
		t.Errorf("provider holds %d records, want 2", len(got))
	}
	if result.Changed() != 2 {
		t.Errorf("Changed() = %d, want 2", result.Changed())
	}
}

func TestSyncUpdatesChanged(t *testing.T) {
	provider := newFakeProvider(t,
		Record{Name: "paperless.example.com", Type: "CNAME", Value: "old-edge.example.com"},
	)

	desired := []Record{
		{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com", Proxied: true},
	}

	result, err := provider.client().Sync(context.Background(), testZone, desired)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(result.Updated) != 1 || len(result.Created) != 0 {
		t.Fatalf("result = %d created, %d updated", len(result.Created), len(result.Updated))
	}
	if result.Updated[0].ID != "rec-1" {
		t.Errorf("updated record ID = %q, want rec-1", result.Updated[0].ID)
	}

	records := provider.snapshot()
	if records[0].Value != "edge.example.com" || !records[0].Proxied {
		t.Errorf("stored record = %+v", records[0])
	}
}

func TestSyncLeavesOtherRecords(t *testing.T) {
	provider := newFakeProvider(t,
		Record{Name: "legacy.example.com", Type: "A", Value: "10.0.0.9", TTL: 300},
	)

	desired := []Record{
		{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com"},
	}

	result, err := provider.client().Sync(context.Background(), testZone, desired)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("created = %d, want 1", len(result.Created))
	}

	records := provider.snapshot()
	if len(records) != 2 {
		t.Fatalf("provider holds %d records, want 2", len(records))
	}
	if records[0].Name != "legacy.example.com" || records[0].Value != "10.0.0.9" {
		t.Errorf("unnamed record was touched: %+v", records[0])
	}
}

func TestSyncUnchangedMakesNoWrites(t *testing.T) {
	record := Record{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com", Proxied: true, TTL: 300}
	provider := newFakeProvider(t, record)

	result, err := provider.client().Sync(context.Background(), testZone, []Record{record})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Unchanged) != 1 || result.Changed() != 0 {
		t.Fatalf("result = %+v", result)
	}
	if provider.writeCount() != 0 {
		t.Errorf("sync wrote %d times for an unchanged record", provider.writeCount())
	}
}

func TestSyncZeroTTLDefersToProvider(t *testing.T) {
	provider := newFakeProvider(t,
		Record{Name: "nas.example.com", Type: "A", Value: "10.0.0.7", TTL: 300},
	)
	client := provider.client()

	result, err := client.Sync(context.Background(), testZone, []Record{
		{Name: "nas.example.com", Type: "A", Value: "10.0.0.7"},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Changed() != 0 {
		t.Errorf("zero-TTL record triggered a write: %+v", result)
	}

	result, err = client.Sync(context.Background(), testZone, []Record{
		{Name: "nas.example.com", Type: "A", Value: "10.0.0.7", TTL: 600},
	})
	if err != nil {
		t.Fatalf("Sync with TTL: %v", err)
	}
	if len(result.Updated) != 1 {
		t.Fatalf("explicit TTL change was not written: %+v", result)
	}
	if got := provider.snapshot()[0].TTL; got != 600 {
		t.Errorf("stored TTL = %d, want 600", got)
	}
}

func TestSyncConflictingDesired(t *testing.T) {
	provider := newFakeProvider(t)

	_, err := provider.client().Sync(context.Background(), testZone, []Record{
		{Name: "paperless.example.com", Type: "CNAME", Value: "edge-a.example.com"},
		{Name: "paperless.example.com", Type: "CNAME", Value: "edge-b.example.com"},
	})
	if err == nil {
		t.Fatal("expected error for conflicting records")
	}
	if !strings.Contains(err.Error(), "conflicting") {
		t.Errorf("error = %v", err)
	}
	if provider.writeCount() != 0 {
		t.Errorf("conflicting sync still wrote %d times", provider.writeCount())
	}
}

func TestSyncCollapsesDuplicates(t *testing.T) {
	provider := newFakeProvider(t)

	record := Record{Name: "paperless.example.com", Type: "CNAME", Value: "edge.example.com"}
	result, err := provider.client().Sync(context.Background(), testZone, []Record{record, record})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Created) != 1 || provider.writeCount() != 1 {
		t.Errorf("duplicates were not collapsed: %+v, writes %d", result, provider.writeCount())
	}
}

func TestUnauthorized(t *testing.T) {
	provider := newFakeProvider(t)
	client := NewClient(provider.server.URL, "wrong-token")

	_, err := client.ListRecords(context.Background(), testZone)
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Message != "unauthorized" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestAPIErrorPlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "upstream exploded")
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "token").ListRecords(context.Background(), testZone)
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestUpdateRecordRequiresID(t *testing.T) {
	provider := newFakeProvider(t)

	_, err := provider.client().UpdateRecord(context.Background(), testZone, Record{Name: "x.example.com"})
	if err == nil {
		t.Fatal("expected error for missing ID")
	}
	if !strings.Contains(err.Error(), "ID") {
		t.Errorf("error = %v", err)
	}
}

package web

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/config"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/download"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
)

func newTestServer(t *testing.T, tick time.Duration) *httptest.Server {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	cfg := &config.Config{TickInterval: tick, StaleAfter: 5 * time.Minute}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewStore(d.Conn())
	h := hub.New()
	mgr := download.New(cfg, d, cat, h, logger)

	ts := httptest.NewServer(New(cfg, mgr, cat, h, logger).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// newTestClient returns a client with a cookie jar, so it carries one stable
// session token across requests like a browser would.
func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func createObject(t *testing.T, client *http.Client, baseURL, name string, sizeMB float64) string {
	t.Helper()
	resp, body := doJSON(t, client, http.MethodPost, baseURL+"/api/admin/objects",
		map[string]any{"name": name, "size": sizeMB})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create object: status %d, body %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create object: no id in %v", body)
	}
	return id
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)

	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestSessionCookie(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)

	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/client/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	first, _ := body["session_id"].(string)
	if first == "" {
		t.Fatalf("no session_id in %v", body)
	}

	// The cookie makes the token stick across requests.
	_, body = doJSON(t, client, http.MethodGet, ts.URL+"/api/client/session", nil)
	if body["session_id"] != first {
		t.Fatalf("session token changed: %v then %v", first, body["session_id"])
	}

	// A fresh client gets its own token.
	_, body = doJSON(t, newTestClient(t), http.MethodGet, ts.URL+"/api/client/session", nil)
	if body["session_id"] == first {
		t.Fatal("two clients share a session token")
	}
}

func TestAdminObjectCRUD(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, ts.URL+"/api/admin/objects",
		map[string]any{"name": "no-size.iso"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing size, got %d", resp.StatusCode)
	}

	id := createObject(t, client, ts.URL, "ubuntu-24.04.iso", 2.5)

	resp, body := doJSON(t, client, http.MethodGet, ts.URL+"/api/admin/objects/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get object: status %d", resp.StatusCode)
	}
	if body["name"] != "ubuntu-24.04.iso" || body["size"] != 2.5 {
		t.Fatalf("unexpected object: %v", body)
	}

	resp, body = doJSON(t, client, http.MethodPut, ts.URL+"/api/admin/objects/"+id,
		map[string]any{"size": 4.0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update object: status %d", resp.StatusCode)
	}
	if body["name"] != "ubuntu-24.04.iso" || body["size"] != 4.0 {
		t.Fatalf("partial update went wrong: %v", body)
	}

	resp, _ = doJSON(t, client, http.MethodDelete, ts.URL+"/api/admin/objects/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete object: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, client, http.MethodGet, ts.URL+"/api/admin/objects/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestClientObjectSearch(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)

	createObject(t, client, ts.URL, "Ubuntu-24.04.iso", 2.5)
	createObject(t, client, ts.URL, "debian-12.iso", 0.7)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/client/objects/search?q=ubuntu", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var objects []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(objects) != 1 || objects[0]["name"] != "Ubuntu-24.04.iso" {
		t.Fatalf("unexpected search result: %v", objects)
	}
}

func TestDownloadLifecycle(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)
	id := createObject(t, client, ts.URL, "ubuntu-24.04.iso", 0.01)

	resp, body := doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init: status %d, body %v", resp.StatusCode, body)
	}
	if body["download_id"] == "" || body["total_chunks"] != 10.0 {
		t.Fatalf("unexpected init response: %v", body)
	}

	// Same user again: busy.
	resp, body = doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", resp.StatusCode, body)
	}
	current, _ := body["current_download"].(map[string]any)
	if current == nil || current["object_name"] != "ubuntu-24.04.iso" {
		t.Fatalf("conflict body missing current download: %v", body)
	}

	// A different user is not blocked.
	other := newTestClient(t)
	resp, body = doJSON(t, other, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init for second user: status %d, body %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, client, http.MethodGet, ts.URL+"/api/download/status", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "busy" {
		t.Fatalf("unexpected status: %d %v", resp.StatusCode, body)
	}
	dl, _ := body["download"].(map[string]any)
	if dl == nil || dl["object_name"] != "ubuntu-24.04.iso" {
		t.Fatalf("status missing download detail: %v", body)
	}

	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/download/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/download/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on repeat cancel, got %d", resp.StatusCode)
	}

	_, body = doJSON(t, client, http.MethodGet, ts.URL+"/api/download/status", nil)
	if body["state"] != "free" || body["download"] != nil {
		t.Fatalf("expected free status after cancel: %v", body)
	}
}

func TestDownloadInitUnknownObject(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)

	resp, _ := doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing object_id, got %d", resp.StatusCode)
	}
}

func TestDownloadStream(t *testing.T) {
	ts := newTestServer(t, 5*time.Millisecond)
	client := newTestClient(t)
	id := createObject(t, client, ts.URL, "ubuntu-24.04.iso", 0.01)

	_, body := doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id})
	downloadID, _ := body["download_id"].(string)
	if downloadID == "" {
		t.Fatalf("no download_id in %v", body)
	}

	resp, err := client.Get(ts.URL + "/api/download/stream/" + downloadID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: status %d", resp.StatusCode)
	}

	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad stream line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if len(events) != 11 {
		t.Fatalf("expected 11 stream events, got %d: %v", len(events), events)
	}
	last := events[len(events)-1]
	if last["complete"] != true || last["progress"] != 100.0 || last["chunk"] != 10.0 {
		t.Fatalf("unexpected terminal event: %v", last)
	}

	// The session is finalized; streaming it again is rejected.
	resp, err = client.Get(ts.URL + "/api/download/stream/" + downloadID)
	if err != nil {
		t.Fatalf("second stream: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for finished session, got %d", resp.StatusCode)
	}
}

func TestDownloadStreamWrongUser(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	owner := newTestClient(t)
	id := createObject(t, owner, ts.URL, "a.iso", 0.01)

	_, body := doJSON(t, owner, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id})
	downloadID, _ := body["download_id"].(string)

	intruder := newTestClient(t)
	resp, err := intruder.Get(ts.URL + "/api/download/stream/" + downloadID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMonitorEndpoints(t *testing.T) {
	ts := newTestServer(t, time.Hour)
	client := newTestClient(t)
	id := createObject(t, client, ts.URL, "a.iso", 0.01)

	if resp, body := doJSON(t, client, http.MethodPost, ts.URL+"/api/download/init",
		map[string]any{"object_id": id}); resp.StatusCode != http.StatusOK {
		t.Fatalf("init: status %d, body %v", resp.StatusCode, body)
	}

	resp, err := client.Get(ts.URL + "/api/admin/monitor/downloads/active")
	if err != nil {
		t.Fatalf("monitor active: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var active []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatalf("decode active downloads: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active download, got %d", len(active))
	}
	if active[0]["user_token"] == "" || active[0]["object_name"] != "a.iso" {
		t.Fatalf("active entry missing detail: %v", active[0])
	}

	resp, err = client.Get(ts.URL + "/api/admin/monitor/users")
	if err != nil {
		t.Fatalf("monitor users: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var users []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0]["current_state"] != "busy" || users[0]["current_download"] == nil {
		t.Fatalf("unexpected user entry: %v", users[0])
	}
}

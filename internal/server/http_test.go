package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/VGCH/alpha-private-speaker-connector/internal/config"
	"github.com/VGCH/alpha-private-speaker-connector/internal/metrics"
)

func newTestHTTPServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	cfg := svc.cfg
	cfg.HTTP = config.HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true}
	h := NewHTTPServer(cfg, svc.logger, svc, svc.registry, nil, metrics.NewMetricsWith(prometheus.NewRegistry()))
	srv := httptest.NewServer(h.server.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPHealth(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	srv := newTestHTTPServer(t, svc)

	var health map[string]any
	if code := getJSON(t, srv.URL+"/health", &health); code != http.StatusOK {
		t.Fatalf("/health status = %d", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}
}

func TestHTTPSpeakers(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")
	srv := newTestHTTPServer(t, svc)

	var list map[string]any
	if code := getJSON(t, srv.URL+"/speakers", &list); code != http.StatusOK {
		t.Fatalf("/speakers status = %d", code)
	}
	if list["total_speakers"] != float64(1) {
		t.Errorf("total_speakers = %v", list["total_speakers"])
	}

	if code := getJSON(t, srv.URL+"/speakers/kitchen-1", nil); code != http.StatusOK {
		t.Errorf("/speakers/kitchen-1 status = %d", code)
	}
	if code := getJSON(t, srv.URL+"/speakers/ghost", nil); code != http.StatusNotFound {
		t.Errorf("/speakers/ghost status = %d, want 404", code)
	}
}

func TestHTTPDeleteSpeaker(t *testing.T) {
	events := &fakeBus{}
	svc := newTestService(t, nil, events)
	register(t, svc, "kitchen-1")
	srv := newTestHTTPServer(t, svc)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/speakers/kitchen-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
	if _, ok := svc.registry.Get("kitchen-1"); ok {
		t.Error("speaker still registered after DELETE")
	}
	if !events.has("disconnected") {
		t.Error("disconnected event not emitted")
	}
}

func TestHTTPSendTTSWithoutStream(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")
	srv := newTestHTTPServer(t, svc)

	body, _ := json.Marshal(map[string]any{"text": "hello"})
	resp, err := http.Post(srv.URL+"/speakers/kitchen-1/tts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["success"] != false {
		t.Errorf("tts without stream = %v, want success=false", out)
	}
}

func TestHTTPSendTTSRequiresText(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	register(t, svc, "kitchen-1")
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Post(srv.URL+"/speakers/kitchen-1/tts", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTPConfigOmitsToken(t *testing.T) {
	svc := newTestService(t, nil, &fakeBus{})
	svc.cfg.Hass.Token = "secret-token"
	srv := newTestHTTPServer(t, svc)

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if bytes.Contains(buf.Bytes(), []byte("secret-token")) {
		t.Error("access token leaked via /config")
	}
}

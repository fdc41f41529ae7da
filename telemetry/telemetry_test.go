package telemetry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

func TestRenderTextDeterministic(t *testing.T) {
	x := NewExporter()
	x.Register("tlh", func() map[string]float64 {
		return map[string]float64{"refresh_fresh": 3, "discarded_bytes": 100}
	})
	x.Register("dispatcher", func() map[string]float64 {
		return map[string]float64{"active_threads": 4}
	})

	first := x.renderText()
	second := x.renderText()
	if !bytes.Equal(first, second) {
		t.Fatal("exposition not deterministic")
	}

	text := string(first)
	if !strings.Contains(text, "dispatcher_active_threads 4\n") {
		t.Fatalf("exposition missing dispatcher metric:\n%s", text)
	}
	// Collectors render sorted by name: dispatcher before tlh.
	if strings.Index(text, "dispatcher_") > strings.Index(text, "tlh_") {
		t.Fatal("collector ordering not stable")
	}
}

func TestSnapshotDigestCaching(t *testing.T) {
	counter := 0.0
	x := NewExporter()
	x.Register("gc", func() map[string]float64 {
		return map[string]float64{"cycles": counter}
	})

	first := x.Snapshot()
	second := x.Snapshot()
	// Unchanged stats return the identical cached payload.
	if &first[0] != &second[0] {
		t.Fatal("unchanged snapshot was re-serialized")
	}

	counter = 5
	third := x.Snapshot()
	if bytes.Equal(first, third) {
		t.Fatal("changed stats produced a stale snapshot")
	}

	var decoded map[string]float64
	if err := json.Unmarshal(third, &decoded); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if decoded["gc_cycles"] != 5 {
		t.Fatalf("snapshot value = %v", decoded["gc_cycles"])
	}
}

func TestMetricTokenSanitization(t *testing.T) {
	if got := sanitizeMetricToken("tlh.refresh-count"); got != "tlh_refresh_count" {
		t.Fatalf("sanitized token = %q", got)
	}
}

func TestServerServesMetrics(t *testing.T) {
	x := NewExporter()
	x.Register("heap", func() map[string]float64 {
		return map[string]float64{"active_bytes": 1024}
	})

	bound, stop, err := x.StartServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = stop(ctx)
	}()

	resp, err := http.Get("http://" + bound + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "heap_active_bytes 1024") {
		t.Fatalf("metrics body:\n%s", body)
	}

	snap, err := http.Get("http://" + bound + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	defer snap.Body.Close()
	var decoded map[string]float64
	if err := json.NewDecoder(snap.Body).Decode(&decoded); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if decoded["heap_active_bytes"] != 1024 {
		t.Fatal("snapshot missing heap metric")
	}
}

// selfSignedTLS builds a throwaway loopback server certificate for the
// HTTP/3 tests.
func selfSignedTLS(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{"h3"},
	}
}

func TestHTTP3ServerServesMetrics(t *testing.T) {
	x := NewExporter()
	x.Register("gc", func() map[string]float64 {
		return map[string]float64{"cycles": 2}
	})

	srv := NewHTTP3Server("127.0.0.1:0", selfSignedTLS(t), x.Handler())
	bound, err := srv.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Close()

	tr := &http3.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	defer tr.Close()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	resp, err := client.Get("https://" + bound + "/metrics")
	if err != nil {
		t.Fatalf("GET over HTTP/3: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gc_cycles 2") {
		t.Fatalf("HTTP/3 metrics body:\n%s", body)
	}

	snap, err := client.Get("https://" + bound + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot over HTTP/3: %v", err)
	}
	defer snap.Body.Close()
	var decoded map[string]float64
	if err := json.NewDecoder(snap.Body).Decode(&decoded); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if decoded["gc_cycles"] != 2 {
		t.Fatal("HTTP/3 snapshot missing metric")
	}
}

func TestHTTP3ServerEnforcesTLS13(t *testing.T) {
	// A config below TLS 1.3 is raised to it; QUIC cannot run on less.
	weak := selfSignedTLS(t)
	weak.MinVersion = tls.VersionTLS12
	srv := NewHTTP3Server("127.0.0.1:0", weak, http.NotFoundHandler())
	if srv.srv.TLSConfig.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version = %#x, want TLS 1.3", srv.srv.TLSConfig.MinVersion)
	}
}

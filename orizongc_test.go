package orizongc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	http3 "github.com/quic-go/quic-go/http3"

	"github.com/orizon-lang/orizon-gc/dispatch"
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
)

const (
	testRegionSize = 2 * 1024 * 1024
	testHeapSize   = 32 * testRegionSize // 64 MiB
)

type wordObjectModel struct{}

func (wordObjectModel) ConsumedSizeInBytes(addr env.Address) uintptr                  { return 64 }
func (wordObjectModel) InitializeMinimumSizeObject(e *env.Environment, a env.Address) {}
func (wordObjectModel) IsDeadObject(addr env.Address) bool                            { return false }
func (wordObjectModel) SizeInBytesDeadObject(addr env.Address) uintptr                { return 0 }
func (wordObjectModel) CompressObjectReferences() bool                                { return false }

func startSubstrate(t *testing.T, shape func(*SubstrateConfig)) *Substrate {
	t.Helper()
	options := env.NewOptions(testHeapSize)
	options.GCThreadCount = 4
	options.GCThreadCountForced = true
	cfg := SubstrateConfig{
		Options:     options,
		HeapSize:    testHeapSize,
		RegionSize:  testRegionSize,
		ObjectModel: wordObjectModel{},
	}
	if shape != nil {
		shape(&cfg)
	}
	s, err := Startup(cfg)
	if err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestStartupShutdownRoundTrip(t *testing.T) {
	s := startSubstrate(t, nil)
	if s.Dispatcher().ThreadCount() != 4 {
		t.Fatalf("dispatcher threads = %d", s.Dispatcher().ThreadCount())
	}
	if s.Heap().MaximumMemorySize() != testHeapSize {
		t.Fatal("heap size wrong")
	}
	// Shutdown runs via cleanup; calling it twice must be safe.
	s.Shutdown()
}

func TestVersionGate(t *testing.T) {
	options := env.NewOptions(testHeapSize)
	_, err := Startup(SubstrateConfig{
		Options:              options,
		HeapSize:             testHeapSize,
		RegionSize:           testRegionSize,
		ObjectModel:          wordObjectModel{},
		HostInterfaceVersion: "9.0.0",
	})
	if !errors.Is(err, env.ErrUnsupportedPlatform) {
		t.Fatalf("gate error = %v", err)
	}
}

func TestParallelMarkMapClearEndToEnd(t *testing.T) {
	s := startSubstrate(t, nil)

	manager := s.Heap().RegionManager()
	for r := manager.FirstTableRegion(); r != nil; r = manager.NextTableRegion(r) {
		s.Heap().CommitRegion(r)
	}
	s.MarkMap().SetBitsInRange(s.Heap().Base(), s.Heap().Top(), false)

	main := env.NewEnvironment(s.Extensions())
	main.SetThreadType(env.ThreadTypeMain)
	s.ClearMarkMap(main)

	if got := s.MarkMap().NumberBitsInRange(s.Heap().Base(), s.Heap().Top()); got != 0 {
		t.Fatalf("bits remaining after parallel clear = %d", got)
	}
}

// regionPool adapts a committed region into the pool interface for the
// substrate-level allocation test.
type regionPool struct {
	cursor env.Address
	top    env.Address
}

func (p *regionPool) AllocateTLH(e *env.Environment, maximumSize uintptr) (env.Address, env.Address, bool) {
	remaining := uintptr(p.top - p.cursor)
	if remaining == 0 {
		return 0, 0, false
	}
	if maximumSize > remaining {
		maximumSize = remaining
	}
	base := p.cursor
	p.cursor += env.Address(maximumSize)
	return base, base + env.Address(maximumSize), true
}

func (p *regionPool) AbandonTLHHeapChunk(base, top env.Address) {}
func (p *regionPool) MinimumFreeEntrySize() uintptr             { return 16 }

type regionSubSpace struct {
	pool *regionPool
}

func (s *regionSubSpace) AllocateObject(e *env.Environment, desc *env.AllocateDescription) env.Address {
	base, _, ok := s.pool.AllocateTLH(e, desc.ContiguousBytes)
	if !ok {
		return 0
	}
	return base
}

func (s *regionSubSpace) AllocateArrayletLeaf(e *env.Environment, desc *env.AllocateDescription) env.Address {
	return s.AllocateObject(e, desc)
}

func (s *regionSubSpace) ObjectFlags() uintptr        { return 0 }
func (s *regionSubSpace) DefaultPool() env.MemoryPool { return s.pool }

func TestAllocationThroughSubstrate(t *testing.T) {
	s := startSubstrate(t, nil)

	region := s.Heap().RegionManager().FirstTableRegion()
	s.Heap().CommitRegion(region)
	region.SetType(heap.RegionBumpAllocated)

	ai := s.NewAllocationInterface()
	ai.ConnectSubSpace(&regionSubSpace{pool: &regionPool{cursor: region.LowAddress(), top: region.HighAddress()}})

	e := env.NewEnvironment(s.Extensions())
	for i := 0; i < 100; i++ {
		if ai.AllocateObject(e, env.NewAllocateDescription(128)) == 0 {
			t.Fatalf("allocation %d failed", i)
		}
	}
	ai.FlushCache(e)

	if s.GlobalStats().Allocation.TLHRefreshCountFresh == 0 {
		t.Fatal("flush did not surface refresh stats globally")
	}
}

func TestTelemetryThroughSubstrate(t *testing.T) {
	s := startSubstrate(t, func(cfg *SubstrateConfig) {
		cfg.TelemetryAddr = "127.0.0.1:0"
	})
	resp, err := http.Get("http://" + s.TelemetryAddr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dispatcher_thread_count_maximum") {
		t.Fatalf("metrics missing dispatcher stats:\n%s", body)
	}
}

// loopbackTLS builds a throwaway server certificate for the HTTP/3
// telemetry test.
func loopbackTLS(t *testing.T) *tls.Config {
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

func TestHTTP3TelemetryThroughSubstrate(t *testing.T) {
	s := startSubstrate(t, func(cfg *SubstrateConfig) {
		cfg.TelemetryAddr3 = "127.0.0.1:0"
		cfg.TelemetryTLS = loopbackTLS(t)
	})
	if s.TelemetryAddr3() == "" {
		t.Fatal("HTTP/3 telemetry not bound")
	}

	tr := &http3.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	defer tr.Close()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	resp, err := client.Get("https://" + s.TelemetryAddr3() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics over HTTP/3: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dispatcher_thread_count_maximum") {
		t.Fatalf("HTTP/3 metrics missing dispatcher stats:\n%s", body)
	}
}

func TestOptionsFileAtStartup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gc.env")
	if err := os.WriteFile(path, []byte("ORIZON_GC_TLH_INITIAL_SIZE=8192\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := startSubstrate(t, func(cfg *SubstrateConfig) {
		cfg.OptionsFile = path
	})
	if got := s.Extensions().Options().TLHInitialSize; got != 8192 {
		t.Fatalf("tlhInitial = %d, want 8192", got)
	}
}

func TestDispatcherAccessor(t *testing.T) {
	s := startSubstrate(t, nil)
	var _ *dispatch.ParallelDispatcher = s.Dispatcher()
}

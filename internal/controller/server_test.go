package controller

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tkn-tub/module-simple/internal/agent"
	"github.com/tkn-tub/module-simple/internal/commands"
	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/device"
)

type fakeObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *fakeObserver) Connected()    { o.record("connected") }
func (o *fakeObserver) Disconnected() { o.record("disconnected") }

func (o *fakeObserver) record(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *fakeObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type link struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func createTestServer(t *testing.T, cidrs []string, observer LinkObserver) (*Server, string) {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Clients = []string{"aa:aa:aa:aa:aa:01"}
	cfg.Neighbors = [][]string{{}}

	m := device.New(cfg, nil, nil)
	a := agent.New(m, nil, agent.Options{})
	dispatcher := commands.NewDispatcher(commands.NewModuleRegistry(m), a, nil, nil)

	server, err := NewServer(config.ControllerConfig{AllowedCIDRs: cidrs}, dispatcher, observer, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go server.Serve(listener)
	t.Cleanup(func() {
		server.Close()
		a.Close()
	})
	return server, listener.Addr().String()
}

func dial(t *testing.T, addr string) *link {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &link{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (l *link) call(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	l.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := l.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if !l.scanner.Scan() {
		t.Fatalf("No response: %v", l.scanner.Err())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(l.scanner.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response %s: %v", l.scanner.Text(), err)
	}
	return resp
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("Condition not met in time")
	}
}

func TestNewServerRejectsBadCIDR(t *testing.T) {
	if _, err := NewServer(config.ControllerConfig{AllowedCIDRs: []string{"nope"}}, nil, nil, nil); err == nil {
		t.Error("Expected error for invalid CIDR")
	}
}

func TestPersistentLink(t *testing.T) {
	_, addr := createTestServer(t, []string{"127.0.0.0/8"}, nil)
	l := dial(t, addr)

	resp := l.call(t, `{"jsonrpc":"2.0","method":"set_channel","params":[11,"wlan0"],"id":1}`)
	if resp["error"] != nil {
		t.Fatalf("Unexpected error %v", resp["error"])
	}

	resp = l.call(t, `{"jsonrpc":"2.0","method":"get_channel","id":2}`)
	if resp["result"] != float64(11) {
		t.Errorf("Expected channel 11, got %v", resp["result"])
	}
	if resp["id"] != float64(2) {
		t.Errorf("Expected id 2, got %v", resp["id"])
	}

	resp = l.call(t, `{"jsonrpc":"2.0","method":"zeroize","id":3}`)
	errObj, ok := resp["error"].(map[string]interface{})
	if !ok || errObj["code"] != float64(commands.CodeMethodNotFound) {
		t.Errorf("Expected method not found, got %v", resp)
	}
}

func TestParseErrorClosesLink(t *testing.T) {
	_, addr := createTestServer(t, []string{"127.0.0.0/8"}, nil)
	l := dial(t, addr)

	resp := l.call(t, `{"jsonrpc":`+"\x01")
	errObj, ok := resp["error"].(map[string]interface{})
	if !ok || errObj["code"] != float64(commands.CodeParseError) {
		t.Errorf("Expected parse error, got %v", resp)
	}
	if l.scanner.Scan() {
		t.Errorf("Expected link to close, got %s", l.scanner.Text())
	}
}

func TestRejectedCIDR(t *testing.T) {
	server, addr := createTestServer(t, []string{"10.0.0.0/8"}, nil)
	l := dial(t, addr)

	l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := l.conn.Read(buf); err == nil {
		t.Error("Expected rejected connection to be closed")
	}
	if server.LinkCount() != 0 {
		t.Errorf("Expected no links, got %d", server.LinkCount())
	}
}

func TestConnectionHooks(t *testing.T) {
	observer := &fakeObserver{}
	server, addr := createTestServer(t, []string{"127.0.0.0/8"}, observer)

	first := dial(t, addr)
	first.call(t, `{"jsonrpc":"2.0","method":"get_address","id":1}`)
	second := dial(t, addr)
	second.call(t, `{"jsonrpc":"2.0","method":"get_address","id":1}`)

	if server.LinkCount() != 2 {
		t.Errorf("Expected 2 links, got %d", server.LinkCount())
	}

	first.conn.Close()
	waitFor(t, func() bool { return server.LinkCount() == 1 })
	if events := observer.snapshot(); len(events) != 1 || events[0] != "connected" {
		t.Errorf("Expected only connected after first close, got %v", events)
	}

	second.conn.Close()
	waitFor(t, func() bool { return server.LinkCount() == 0 })
	waitFor(t, func() bool { return len(observer.snapshot()) == 2 })
	if events := observer.snapshot(); events[1] != "disconnected" {
		t.Errorf("Expected disconnected after last close, got %v", events)
	}
}

func TestCloseEndsLinks(t *testing.T) {
	server, addr := createTestServer(t, []string{"127.0.0.0/8"}, nil)
	l := dial(t, addr)
	l.call(t, `{"jsonrpc":"2.0","method":"get_channel","id":1}`)

	if err := server.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}

	l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if l.scanner.Scan() {
		t.Errorf("Expected link closed, got %s", l.scanner.Text())
	}
}

type slowObserver struct {
	fakeObserver
}

func (o *slowObserver) Connected() {
	time.Sleep(time.Millisecond)
	o.record("connected")
}

func (o *slowObserver) Disconnected() {
	time.Sleep(time.Millisecond)
	o.record("disconnected")
}

func TestLinkHooksFollowLinkOrder(t *testing.T) {
	observer := &slowObserver{}
	server, err := NewServer(config.ControllerConfig{}, nil, observer, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer server.Close()

	newConn := func() net.Conn {
		c1, c2 := net.Pipe()
		t.Cleanup(func() { c1.Close(); c2.Close() })
		return c1
	}

	current, _ := server.addLink(newConn())
	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		var next string
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			server.removeLink(id)
		}(current)
		go func() {
			defer wg.Done()
			next, _ = server.addLink(newConn())
		}()
		wg.Wait()
		current = next
	}

	events := observer.snapshot()
	for i, ev := range events {
		want := "connected"
		if i%2 == 1 {
			want = "disconnected"
		}
		if ev != want {
			t.Fatalf("Expected alternating hooks, got %s at %d: %v", ev, i, events)
		}
	}
	if events[len(events)-1] != "connected" || server.LinkCount() != 1 {
		t.Errorf("Expected observer to end connected with one link, got %v and %d links", events[len(events)-1], server.LinkCount())
	}
}

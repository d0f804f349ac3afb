package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tkn-tub/module-simple/internal/agent"
	"github.com/tkn-tub/module-simple/internal/device"
	"github.com/tkn-tub/module-simple/internal/monitor"
	"github.com/tkn-tub/module-simple/internal/simulator"
)

type auditRecord struct {
	action string
	err    error
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAuditor) Record(ctx context.Context, action string, params []json.RawMessage, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action: action, err: err})
}

func createTestDispatcher(t *testing.T) (*Dispatcher, *fakeAuditor) {
	t.Helper()
	m, a := createTestModule(t, createTestConfig())
	auditor := &fakeAuditor{}
	return NewDispatcher(NewModuleRegistry(m), a, auditor, nil), auditor
}

func TestHandleRPC(t *testing.T) {
	d, _ := createTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		req        *Request
		wantCode   int
		wantResult interface{}
	}{
		{
			name:     "wrong version",
			req:      &Request{JSONRPC: "1.0", Method: "get_channel", ID: 1},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "unknown method",
			req:      &Request{JSONRPC: "2.0", Method: "freq", ID: 2},
			wantCode: CodeMethodNotFound,
		},
		{
			name:     "invalid params",
			req:      &Request{JSONRPC: "2.0", Method: "set_tx_power", ID: 3},
			wantCode: CodeInvalidParams,
		},
		{
			name:     "unsupported device function",
			req:      &Request{JSONRPC: "2.0", Method: "clean_per_flow_tx_power_table", ID: 4},
			wantCode: CodeServerError,
		},
		{
			name:       "read channel",
			req:        &Request{JSONRPC: "2.0", Method: "get_channel", ID: 5},
			wantResult: 1,
		},
		{
			name:       "read address",
			req:        &Request{JSONRPC: "2.0", Method: "get_address", ID: 6},
			wantResult: "00:11:22:33:44:55",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.HandleRPC(ctx, tt.req)
			if resp.JSONRPC != "2.0" {
				t.Errorf("Expected JSONRPC 2.0, got %s", resp.JSONRPC)
			}
			if resp.ID != tt.req.ID {
				t.Errorf("Expected ID %v, got %v", tt.req.ID, resp.ID)
			}
			if tt.wantCode != 0 {
				if resp.Error == nil {
					t.Fatalf("Expected error code %d, got result %v", tt.wantCode, resp.Result)
				}
				if resp.Error.Code != tt.wantCode {
					t.Errorf("Expected error code %d, got %d", tt.wantCode, resp.Error.Code)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("Unexpected error %+v", resp.Error)
			}
			if resp.Result != tt.wantResult {
				t.Errorf("Expected result %v, got %v", tt.wantResult, resp.Result)
			}
		})
	}
}

func TestFunctionExecutionFailedResponse(t *testing.T) {
	d, _ := createTestDispatcher(t)

	resp := d.HandleRPC(context.Background(), &Request{JSONRPC: "2.0", Method: "clean_per_flow_tx_power_table", ID: 1})
	if resp.Error == nil {
		t.Fatal("Expected error")
	}
	if resp.Error.Message != ErrFunctionExecutionFailed {
		t.Errorf("Expected message %s, got %s", ErrFunctionExecutionFailed, resp.Error.Message)
	}
	if resp.Error.Data == nil || resp.Error.Data.Details != "radio.clean_per_flow_tx_power_table" {
		t.Errorf("Expected function name in error data, got %+v", resp.Error.Data)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	if _, ok := decoded["result"]; ok {
		t.Error("Expected no result member in error response")
	}
}

func TestEndToEndTraffic(t *testing.T) {
	d, _ := createTestDispatcher(t)
	ctx := context.Background()

	call := func(method string, params ...interface{}) *Response {
		t.Helper()
		return d.HandleRPC(ctx, &Request{JSONRPC: "2.0", Method: method, Params: rawParams(t, params...), ID: method})
	}

	if resp := call("set_channel", 6, "wlan0"); resp.Error != nil {
		t.Fatalf("set_channel failed: %+v", resp.Error)
	}
	if resp := call("set_packet_counter", []simulator.Neighbor{}, "wlan0", 1.0, 0); resp.Error != nil {
		t.Fatalf("set_packet_counter failed: %+v", resp.Error)
	}

	resp := call("get_info_of_connected_devices", "wlan0")
	if resp.Error != nil {
		t.Fatalf("get_info_of_connected_devices failed: %+v", resp.Error)
	}

	// the wire form is {mac: {field: [value, unit]}}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	var info map[string]map[string][]interface{}
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Unexpected info encoding %s: %v", data, err)
	}
	station := info["aa:aa:aa:aa:aa:01"]
	if station == nil {
		t.Fatalf("Expected station entry, got %s", data)
	}
	if station["tx packets"][0] != "101" {
		t.Errorf("Expected 101 tx packets, got %v", station["tx packets"])
	}
	if station["rx packets"][0] != "5" || station["rx packets"][1] != nil {
		t.Errorf("Expected [\"5\", null] rx packets, got %v", station["rx packets"])
	}
	if station["signal"][1] != "dBm" {
		t.Errorf("Expected dBm unit, got %v", station["signal"])
	}
}

func TestMutatingCommandsAudited(t *testing.T) {
	d, auditor := createTestDispatcher(t)
	ctx := context.Background()

	d.Execute(ctx, "get_channel", nil)
	d.Execute(ctx, "set_tx_power", rawParams(t, 5, "wlan0"))
	d.Execute(ctx, "clean_per_flow_tx_power_table", nil)

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if len(auditor.records) != 2 {
		t.Fatalf("Expected 2 audit records, got %d", len(auditor.records))
	}
	if auditor.records[0].action != "set_tx_power" || auditor.records[0].err != nil {
		t.Errorf("Unexpected first record %+v", auditor.records[0])
	}
	if auditor.records[1].action != "clean_per_flow_tx_power_table" || auditor.records[1].err == nil {
		t.Errorf("Unexpected second record %+v", auditor.records[1])
	}
}

func TestIsReadOnly(t *testing.T) {
	d, _ := createTestDispatcher(t)

	if ro, ok := d.IsReadOnly("get_channel"); !ok || !ro {
		t.Error("Expected get_channel to be read-only")
	}
	if ro, ok := d.IsReadOnly("set_channel"); !ok || ro {
		t.Error("Expected set_channel to be mutating")
	}
	if _, ok := d.IsReadOnly("zeroize"); ok {
		t.Error("Expected unknown command to be reported missing")
	}
}

func TestExecuteAfterAgentClosed(t *testing.T) {
	m := device.New(createTestConfig(), nil, nil)
	a := agent.New(m, nil, agent.Options{})
	d := NewDispatcher(NewModuleRegistry(m), a, nil, nil)
	a.Close()

	_, err := d.Execute(context.Background(), "get_channel", nil)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != ErrUnavailable {
		t.Errorf("Expected UNAVAILABLE, got %v", err)
	}
}

func TestToCommandError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&CommandError{Code: ErrInvalidParams, Message: "x"}, ErrInvalidParams},
		{&device.FunctionExecutionFailedError{FuncName: "f", Message: "m"}, ErrFunctionExecutionFailed},
		{fmt.Errorf("wrapped: %w", simulator.ErrInvalidScenario), ErrInvalidRange},
		{agent.ErrBusy, ErrBusy},
		{agent.ErrUnavailable, ErrUnavailable},
		{fmt.Errorf("read: %w", monitor.ErrSamplerStopped), ErrUnavailable},
		{context.DeadlineExceeded, ErrUnavailable},
		{agent.ErrTimeout, ErrInternal},
		{errors.New("boom"), ErrInternal},
	}

	for _, tt := range tests {
		if got := ToCommandError(tt.err).Code; got != tt.want {
			t.Errorf("ToCommandError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

package netframe

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics
	if newMetrics(nil, RoleServer) != nil {
		t.Fatal("newMetrics without a registerer should return nil")
	}

	m.connection(true)
	m.handshake(false)
	m.opened()
	m.closed()
	m.received(10)
	m.sent(10)
	m.dispatched(time.Now())
}

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, RoleServer)

	m.connection(true)
	m.connection(false)
	m.handshake(true)
	m.handshake(false)
	m.opened()
	m.received(12)
	m.sent(20)
	m.sent(8)

	if v := testutil.ToFloat64(m.connections.WithLabelValues("denied")); v != 1 {
		t.Errorf("denied = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.handshakes.WithLabelValues("failed")); v != 1 {
		t.Errorf("failed handshakes = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.active); v != 1 {
		t.Errorf("active = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.bytesOut); v != 28 {
		t.Errorf("bytes out = %v, want 28", v)
	}

	m.closed()
	if v := testutil.ToFloat64(m.active); v != 0 {
		t.Errorf("active = %v, want 0", v)
	}
}

func TestMetrics_RoleLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	newMetrics(reg, RoleServer).received(8)

	expected := `
# HELP netframe_frames_received_total Total number of frames read from the wire
# TYPE netframe_frames_received_total counter
netframe_frames_received_total{role="server"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "netframe_frames_received_total"); err != nil {
		t.Error(err)
	}
}

func TestMetrics_SharedCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := newMetrics(reg, RoleClient)
	b := newMetrics(reg, RoleClient)
	if a.framesIn != b.framesIn {
		t.Error("instances with the same role should share collectors")
	}

	server := newMetrics(reg, RoleServer)
	server.received(1)
	a.received(1)
	b.received(1)

	if v := testutil.ToFloat64(a.framesIn); v != 2 {
		t.Errorf("client frames = %v, want 2", v)
	}
	if v := testutil.ToFloat64(server.framesIn); v != 1 {
		t.Errorf("server frames = %v, want 1", v)
	}
}

func TestConn_ActiveGaugeNeverNegative(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, RoleServer)
	in := NewQueue[OwnedMessage[testMsgID]]()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	// Closed between validation and activation.
	early := newConn[testMsgID](RoleServer, a, in, newOptions(nil), m, nil)
	early.connectToClient(1)
	early.close()

	if early.activate() {
		t.Error("closed connection was activated")
	}
	if v := testutil.ToFloat64(m.active); v != 0 {
		t.Errorf("active = %v after closed activation, want 0", v)
	}

	live := newConn[testMsgID](RoleServer, b, in, newOptions(nil), m, nil)
	live.connectToClient(2)

	if !live.activate() {
		t.Fatal("activate failed")
	}
	if v := testutil.ToFloat64(m.active); v != 1 {
		t.Errorf("active = %v, want 1", v)
	}

	live.close()
	live.close()
	if v := testutil.ToFloat64(m.active); v != 0 {
		t.Errorf("active = %v after close, want 0", v)
	}
}

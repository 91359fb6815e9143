package wire

import "i2csim/trace"

// Node is the thin facade used by controller and target implementations
// to interact with a Bus: sample/drive/delay primitives bound at
// construction to a bus and a handle. Construction attaches; Close
// detaches.
type Node struct {
	bus    *Bus
	handle Handle
	name   string
	tracer *trace.Connection
}

// NewNode attaches name to bus and returns the bound facade.
func NewNode(bus *Bus, name string) *Node {
	return &Node{
		bus:    bus,
		handle: bus.Attach(),
		name:   name,
	}
}

// Name returns the node's name, used only for logging and diagnostics.
func (n *Node) Name() string { return n.name }

// Handle returns the node's kernel handle.
func (n *Node) Handle() Handle { return n.handle }

// Close detaches the node from its bus. It fails with ProtocolViolation
// if the node still holds an open low-drive on either line.
func (n *Node) Close() error {
	return n.bus.Detach(n.handle)
}

// Trace attaches conn so every subsequent SetSDA/SetSCL on this node also
// publishes a {node, line} trace.Message carrying the new Level. Passing
// nil detaches any previously attached tracer.
func (n *Node) Trace(conn *trace.Connection) {
	n.tracer = conn
}

func (n *Node) publish(line string, level Level) {
	if n.tracer == nil {
		return
	}
	n.tracer.Publish(&trace.Message{
		Topic:   trace.Topic{trace.S(n.name), trace.S(line)},
		Payload: level,
	})
}

// SDA samples the data line.
func (n *Node) SDA() Level {
	sda, _, _ := n.bus.Get(n.handle)
	return sda
}

// SetSDA drives the data line.
func (n *Node) SetSDA(level Level) {
	if level == Low {
		_ = n.bus.Set(n.handle, DataLow)
	} else {
		_ = n.bus.Set(n.handle, DataHigh)
	}
	n.publish("SDA", level)
}

// SCL samples the clock line.
func (n *Node) SCL() Level {
	_, scl, _ := n.bus.Get(n.handle)
	return scl
}

// SetSCL drives the clock line.
func (n *Node) SetSCL(level Level) {
	if level == Low {
		_ = n.bus.Set(n.handle, ClockLow)
	} else {
		_ = n.bus.Set(n.handle, ClockHigh)
	}
	n.publish("SCL", level)
}

// Delay emits a Delay event: the idiomatic way to insert settling time
// between two drives of the same line without changing any state.
func (n *Node) Delay() {
	_ = n.bus.Set(n.handle, Delay)
}

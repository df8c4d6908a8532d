package sim

import "sync"

// SendError marks a failure to deliver a message. The sender is expected to
// retry when the destination becomes available again.
type SendError struct {
}

// NewSendError creates a SendError
func NewSendError() *SendError {
	e := new(SendError)
	return e
}

// A Connection is responsible for delivering messages to their destination.
type Connection interface {
	Hookable

	PlugIn(port Port)
	Unplug(port Port)
	NotifyAvailable(now VTimeInSec, port Port)
	CanSend(src Port) bool
	Send(msg Msg) *SendError
}

// DirectConnection connects a group of ports without latency. A message
// becomes visible at the destination at its send time.
type DirectConnection struct {
	HookableBase
	sync.Mutex

	name  string
	ports map[Port]bool
}

// NewDirectConnection creates a new DirectConnection object
func NewDirectConnection(name string) *DirectConnection {
	c := new(DirectConnection)
	c.name = name
	c.ports = make(map[Port]bool)
	return c
}

// Name returns the name of the connection.
func (c *DirectConnection) Name() string {
	return c.name
}

// PlugIn marks the port as connected to this DirectConnection.
func (c *DirectConnection) PlugIn(port Port) {
	c.Lock()
	defer c.Unlock()

	c.ports[port] = true
	port.SetConnection(c)
}

// Unplug marks the port as no longer connected to this DirectConnection.
func (c *DirectConnection) Unplug(port Port) {
	c.Lock()
	defer c.Unlock()

	if _, ok := c.ports[port]; !ok {
		panic("port not attached")
	}

	delete(c.ports, port)
	port.SetConnection(nil)
}

// CanSend always returns true. Whether the message can be delivered is
// decided by the destination port when Send is called.
func (c *DirectConnection) CanSend(_ Port) bool {
	return true
}

// Send of a DirectConnection delivers the message to the destination port
// immediately.
func (c *DirectConnection) Send(msg Msg) *SendError {
	if _, ok := c.ports[msg.Meta().Dst]; !ok {
		panic("destination port not connected to this connection")
	}

	msg.Meta().RecvTime = msg.Meta().SendTime

	return msg.Meta().Dst.Recv(msg)
}

// NotifyAvailable is called by a port to notify the other ports on the
// connection that they can retry sending.
func (c *DirectConnection) NotifyAvailable(now VTimeInSec, port Port) {
	for p := range c.ports {
		if p == port {
			continue
		}

		p.NotifyAvailable(now)
	}
}

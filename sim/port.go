package sim

import (
	"sync"
)

// HookPosPortMsgSend marks when a message is sent out from the port.
var HookPosPortMsgSend = &HookPos{Name: "Port Msg Send"}

// HookPosPortMsgRecvd marks when an inbound message arrives at a the given
// port
var HookPosPortMsgRecvd = &HookPos{Name: "Port Msg Recv"}

// HookPosPortMsgRetrieve marks when an inbound message is retrieved from the
// incoming buffer.
var HookPosPortMsgRetrieve = &HookPos{Name: "Port Msg Retrieve"}

// A Port is owned by a component and is used to plugin connections
type Port interface {
	Named
	Hookable

	SetConnection(conn Connection)
	Component() Component

	// For connection
	Recv(msg Msg) *SendError
	NotifyAvailable(now VTimeInSec)

	// For component
	CanSend() bool
	Send(msg Msg) *SendError
	Retrieve(now VTimeInSec) Msg
	Peek() Msg
}

// LimitNumMsgPort is a port that holds at most a given number of messages in
// its incoming buffer.
type LimitNumMsgPort struct {
	HookableBase

	lock sync.Mutex
	name string
	comp Component
	conn Connection

	incomingBuf Buffer
}

// NewLimitNumMsgPort creates a new port that can hold at most bufCap
// inbound messages.
func NewLimitNumMsgPort(
	comp Component,
	bufCap int,
	name string,
) *LimitNumMsgPort {
	p := new(LimitNumMsgPort)
	p.comp = comp
	p.incomingBuf = NewBuffer(name+".IncomingBuf", bufCap)
	p.name = name
	return p
}

// Name returns the name of the port.
func (p *LimitNumMsgPort) Name() string {
	return p.name
}

// SetConnection sets which connection is plugged in to this port.
func (p *LimitNumMsgPort) SetConnection(conn Connection) {
	p.conn = conn
}

// Component returns the owner component of the port.
func (p *LimitNumMsgPort) Component() Component {
	return p.comp
}

// CanSend checks if the connection can deliver a message from this port
// without error.
func (p *LimitNumMsgPort) CanSend() bool {
	return p.conn.CanSend(p)
}

// Send is used to send a message out from a component
func (p *LimitNumMsgPort) Send(msg Msg) *SendError {
	if msg.Meta().Src != p {
		panic("sending port is not msg src")
	}
	if msg.Meta().Dst == nil {
		panic("dst is not given")
	}
	if msg.Meta().Dst == p {
		panic("sending back to src")
	}

	err := p.conn.Send(msg)
	if err != nil {
		return err
	}

	hookCtx := HookCtx{
		Domain: p,
		Pos:    HookPosPortMsgSend,
		Item:   msg,
	}
	p.InvokeHook(hookCtx)

	return nil
}

// Recv is used to deliver a message to a component
func (p *LimitNumMsgPort) Recv(msg Msg) *SendError {
	p.lock.Lock()

	if !p.incomingBuf.CanPush() {
		p.lock.Unlock()
		return NewSendError()
	}

	hookCtx := HookCtx{
		Domain: p,
		Pos:    HookPosPortMsgRecvd,
		Item:   msg,
	}
	p.InvokeHook(hookCtx)

	p.incomingBuf.Push(msg)
	p.lock.Unlock()

	if p.comp != nil {
		p.comp.NotifyRecv(msg.Meta().RecvTime, p)
	}

	return nil
}

// Retrieve is used by the component to take a message from the incoming
// buffer
func (p *LimitNumMsgPort) Retrieve(now VTimeInSec) Msg {
	p.lock.Lock()

	item := p.incomingBuf.Pop()
	if item == nil {
		p.lock.Unlock()
		return nil
	}

	wasFull := p.incomingBuf.Size() == p.incomingBuf.Capacity()-1
	p.lock.Unlock()

	if wasFull && p.conn != nil {
		p.conn.NotifyAvailable(now, p)
	}

	msg := item.(Msg)
	hookCtx := HookCtx{
		Domain: p,
		Pos:    HookPosPortMsgRetrieve,
		Item:   msg,
	}
	p.InvokeHook(hookCtx)

	return msg
}

// Peek returns the first message in the incoming buffer without removing it.
func (p *LimitNumMsgPort) Peek() Msg {
	p.lock.Lock()
	defer p.lock.Unlock()

	item := p.incomingBuf.Peek()
	if item == nil {
		return nil
	}

	return item.(Msg)
}

// NotifyAvailable is called by the connection to notify the port that the
// connection is available again
func (p *LimitNumMsgPort) NotifyAvailable(now VTimeInSec) {
	if p.comp != nil {
		p.comp.NotifyPortFree(now, p)
	}
}

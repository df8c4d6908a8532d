// Package tracing collects what happens during a simulation as tasks and
// writes them to CSV or SQLite files.
package tracing

// A Task is one traced occurrence in the simulated system.
type Task struct {
	ID    string
	Kind  string
	What  string
	Where string
	Time  float64
}

// A Tracer accepts tasks as the simulation produces them.
type Tracer interface {
	Write(task Task)
}

// A TraceWriter is a tracer that buffers tasks and needs a final flush.
type TraceWriter interface {
	Tracer

	Init()
	Flush()
}

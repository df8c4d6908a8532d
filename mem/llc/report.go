// Package llc implements a set-associative last-level-cache pipeline with
// MSHR-based miss handling, and the multi-level cache system that drives
// it.
package llc

// A RequestType tells whether a request reads or writes.
type RequestType int

// The request types.
const (
	ReqRead RequestType = iota
	ReqWrite
)

// A Request is one access into the cache hierarchy.
type Request struct {
	Addr   uint64
	Type   RequestType
	CoreID int

	// Callback is invoked when the request completes.
	Callback func(*Request)
}

// A StatusReport aggregates what happened while serving one request.
type StatusReport struct {
	Hit             bool
	ReadMiss        bool
	WriteMiss       bool
	MSHRHit         bool
	MSHRUnavailable bool
	SetUnavailable  bool
	MSHRAllocated   bool

	Evictions int

	// Requests are the memory requests the access induced, such as
	// writebacks of dirty victims.
	Requests []Request
}

// Stats are the counters one cache level maintains.
type Stats struct {
	ReadAccess  uint64
	WriteAccess uint64
	TotalAccess uint64

	ReadMiss  uint64
	WriteMiss uint64
	TotalMiss uint64
	Evictions uint64

	MSHRHit         uint64
	MSHRUnavailable uint64
	SetUnavailable  uint64
}

func (s *Stats) update(report *StatusReport) {
	if report.ReadMiss || report.WriteMiss {
		s.TotalMiss++
		if report.WriteMiss {
			s.WriteMiss++
		} else {
			s.ReadMiss++
		}
	}

	if report.MSHRHit {
		s.MSHRHit++
	}
	if report.MSHRUnavailable {
		s.MSHRUnavailable++
	}
	if report.SetUnavailable {
		s.SetUnavailable++
	}

	s.Evictions += uint64(report.Evictions)
}

package coherence

// A BusOp describes what a bus transaction does, so that snooping caches
// know how to react.
type BusOp int

// Bus operation types.
const (
	// BusRd is a read that allows the block to stay shared.
	BusRd BusOp = iota

	// BusRdX is a read-for-ownership that invalidates all peer copies.
	BusRdX

	// BusUpd propagates newly written data to sharers without invalidating.
	BusUpd

	// BusRdUpd is a read miss that is immediately followed by an update. It
	// combines the install with the broadcast.
	BusRdUpd
)

// HasRead returns true if the operation reads the block from memory or
// peers.
func (o BusOp) HasRead() bool {
	return o == BusRd || o == BusRdUpd
}

// HasUpdate returns true if the operation carries new data for sharers.
func (o BusOp) HasUpdate() bool {
	return o == BusUpd || o == BusRdUpd
}

func (o BusOp) String() string {
	switch o {
	case BusRd:
		return "BusRd"
	case BusRdX:
		return "BusRdX"
	case BusUpd:
		return "BusUpd"
	case BusRdUpd:
		return "BusRdUpd"
	}
	return "Unknown"
}

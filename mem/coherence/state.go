package coherence

// A State is the coherence state of a cache line.
type State int

// The five coherence states shared by all the controllers. Pure MESI
// implementations collapse SharedMod into Modified; it is kept so that the
// snoop and install logic stays uniform across controllers.
const (
	StateInvalid State = iota
	StateExclusive
	StateModified
	StateSharedClean
	StateSharedMod
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "I"
	case StateExclusive:
		return "E"
	case StateModified:
		return "M"
	case StateSharedClean:
		return "Sc"
	case StateSharedMod:
		return "Sm"
	}
	return "Unknown"
}

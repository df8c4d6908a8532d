package tracing

import (
	"fmt"

	"github.com/sarchlab/snoopsim/sim"
)

// A hookTracer records the items flowing past one hook position.
type hookTracer struct {
	tracer     Tracer
	timeTeller sim.TimeTeller
	pos        *sim.HookPos
	kind       string
}

func (h *hookTracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != h.pos {
		return
	}

	where := ""
	if named, ok := ctx.Domain.(sim.Named); ok {
		where = named.Name()
	}

	h.tracer.Write(Task{
		ID:    sim.GetIDGenerator().Generate(),
		Kind:  h.kind,
		What:  fmt.Sprint(ctx.Item),
		Where: where,
		Time:  float64(h.timeTeller.CurrentTime()),
	})
}

// Collect attaches a tracer to a hookable domain, recording everything that
// flows past the given hook position.
func Collect(
	domain sim.Hookable,
	pos *sim.HookPos,
	kind string,
	tracer Tracer,
	timeTeller sim.TimeTeller,
) {
	domain.AcceptHook(&hookTracer{
		tracer:     tracer,
		timeTeller: timeTeller,
		pos:        pos,
		kind:       kind,
	})
}

package event

import "github.com/capisim/capisim/internal/model"

// Injector applies chaos and discrepancy knobs to built events.
type Injector struct {
	rng Rand
}

// NewInjector creates an Injector. A nil rng uses math/rand/v2.
func NewInjector(rng Rand) *Injector {
	if rng == nil {
		rng = globalRand{}
	}
	return &Injector{rng: rng}
}

// Inject returns a mutated copy of ev. Only auxiliary signal fields are
// touched: event_name, event_time and content_ids are left as built.
// Match-rate degradation is sampled on every call.
func (i *Injector) Inject(ev model.Event, controls model.Controls) model.Event {
	controls = controls.Normalize()
	out := ev.Clone()

	if controls.MarginJitterPct > 0 && out.CustomData.Value.Valid {
		spread := (i.rng.Float64()*2 - 1) * controls.MarginJitterPct / 100
		out.CustomData.Value = model.Some(roundCents(out.CustomData.Value.Value * (1 + spread)))
	}

	for _, f := range controls.BadNulls.Faults() {
		i.applyFault(&out, f)
	}

	if controls.MatchRateDegradePct > 0 {
		for _, f := range out.UserData.Present().Fields() {
			if i.rng.Float64()*100 < controls.MatchRateDegradePct {
				out.UserData.Drop(f)
			}
		}
	}

	return out
}

func (i *Injector) applyFault(ev *model.Event, f model.Fault) {
	switch f {
	case model.FaultNullPrice:
		ev.CustomData.Price = model.Null[float64]()
		ev.CustomData.Value = model.Null[float64]()
	case model.FaultNullCurrency:
		ev.CustomData.Currency = model.Null[string]()
		ev.Pixel.Currency = model.Null[string]()
		ev.CAPI.Currency = model.Null[string]()
	case model.FaultNullEventID:
		ev.EventID = model.Null[string]()
		ev.Pixel.EventID = model.Null[string]()
		ev.CAPI.EventID = model.Null[string]()
	}
}

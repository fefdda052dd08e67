package dispatch

import "github.com/capisim/capisim/internal/model"

// SendPixel records a browser pixel fire. The browser does the actual
// network call, so the outcome is always a simulated ok echoing the payload.
func SendPixel(ev model.Event) model.Outcome {
	o := model.Outcome{
		Sink:      model.SinkPixel,
		Status:    model.StatusOK,
		EventID:   ev.EventID,
		Simulated: true,
		Payload:   &ev,
	}
	o.SetLatency(0)
	return o
}

package trackingparser

import (
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// GroupEvents collapses per-property rows into one event per call site, in first-seen order.
// N/A rows contribute no property; manual-review rows keep their marker so the gap stays visible.
func GroupEvents(calls []models.TrackingCall) []models.TrackingEvent {
	index := make(map[string]int)
	var events []models.TrackingEvent

	for _, c := range calls {
		key := c.EventName + "\x00" + c.Location()
		i, ok := index[key]
		if !ok {
			i = len(events)
			index[key] = i
			events = append(events, models.TrackingEvent{
				EventName:  c.EventName,
				Properties: map[string]string{},
				Context:    c.CodeLine,
				Location:   c.Location(),
				FilePath:   c.FilePath,
				LineNumber: c.LineNumber,
			})
		}

		if c.PropertyKey != NotApplicable {
			events[i].Properties[c.PropertyKey] = c.PropertyType
		}
	}

	return events
}

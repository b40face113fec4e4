package engine

// Polling reports whether the scheduler holds a subscription for the event
func (e *Engine) Polling(eventID string) bool {
	return e.sched.Has(eventID)
}

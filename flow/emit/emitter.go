package emit

// Emitter receives execution events from the runner. Implementations
// must be safe for concurrent use (parallel branches emit from their own
// goroutines), must not block the workflow, and must never panic.
type Emitter interface {
	Emit(event Event)
}

// Package engine runs cloud janitor tasks.
//
// # Tasks
//
// A task is a small unit of work that embeds BaseTask and implements Apply.
// It owns three maps: explicit inputs, the outputs it produced and the
// errors it recorded. Tasks are constructed fresh for every submission,
// usually through a Registry factory.
//
//	type Hello struct{ engine.BaseTask }
//
//	func (h *Hello) DeclaredName() string { return "hello" }
//	func (h *Hello) IsWrite() bool        { return false }
//	func (h *Hello) Apply(ctx context.Context) error {
//		h.Success(OutputMessage, "hello "+h.InputString(InputName, "world"))
//		return nil
//	}
//
// # Resolution
//
// Outputs resolve locally first and then depth-first through Dependencies
// in declaration order (OutputOf). Inputs resolve from the explicit value,
// then the configuration tier, then a registered default (InputRegistry).
// Inputs never walk dependencies.
//
// # Coordination
//
// Tasks.Submit binds a task to the run, timestamps it, enforces dry-run and
// capability gates, runs Apply and records failures. BaseTask.Submit first
// copies the caller's inputs onto the delegate. BaseTask.Retry pairs a task
// with a remediation; a task signals a repairable condition by returning
// Unmet. ForEach fans work out over a bounded pool when the run is parallel.
//
// # Waiting
//
// AwaitUntil and AwaitUntilLong poll a Condition with jittered intervals
// until it holds or the preset bound elapses, which yields a timeout error.
package engine

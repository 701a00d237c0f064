package engine

// outcomeKind is the discriminated result of a phase, replacing the
// source's exception-driven control flow (spec.md §9: "re-express as
// result values carrying a discriminated outcome; the engine's top-level
// loop switches on outcome to compute the final deployment state").
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeBuildFailed
	outcomeRunFailed
	outcomeCancelled
	// outcomeLostLeader means a persist lost the race to the timeout
	// sweep (SPEC_FULL §4 Open Question 3); the engine stops immediately
	// without attempting any further write, since the sweep already holds
	// the terminal state.
	outcomeLostLeader
)

type outcome struct {
	kind    outcomeKind
	message string
}

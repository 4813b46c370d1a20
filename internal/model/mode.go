package model

// Mode names the kind of execution an ExecutionContext is set up for.
type Mode string

// Execution modes.
const (
	ModeSample       Mode = "sample"
	ModeObserve      Mode = "observe"
	ModeExtractState Mode = "extract-state"
	ModeRun          Mode = "run"
)

// DefersDeallocation reports whether qudits returned while a context of this
// mode is active are kept alive until the context is reset. Sampling-style
// modes take an implicit measurement over the whole register at the end of
// the run, so the qudits must survive until then.
func (m Mode) DefersDeallocation() bool {
	switch m {
	case ModeSample, ModeObserve, ModeExtractState:
		return true
	default:
		return false
	}
}

package state

// Graph instance states (spec §4.1).
const (
	GraphIdle     = "idle"
	GraphRunning  = "running"
	GraphFinished = "finished"
	GraphFailed   = "failed"
	GraphStopped  = "stopped"
)

// NewGraphInstanceStateMachine builds the GraphInstanceState machine:
//
//	idle    -> {running, stopped}
//	running -> {finished, stopped}
//	finished, stopped, failed -> {} (terminal)
//
// running -> failed is deliberately absent from links: the original engine
// reaches it only via finish_execution(is_failed=True), a forced
// attribute-set rather than a validated transition. The engine does the same:
// graphmentor and graphexec assign GraphFailed directly to the instance's
// exec_stats without consulting this machine, which is what a forced
// ChangeState would permit; see DESIGN.md open-question log.
func NewGraphInstanceStateMachine() *Machine {
	links := map[string][]string{
		GraphIdle:    {GraphRunning, GraphStopped},
		GraphRunning: {GraphFinished, GraphStopped},
	}
	failedStates := []string{GraphFailed, GraphStopped}
	aggregationOrder := []string{GraphStopped, GraphFailed, GraphRunning, GraphIdle, GraphFinished}
	return NewMachine(links, failedStates, aggregationOrder)
}

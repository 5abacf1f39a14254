// Package task provides a cooperative, fixed-cadence background scheduler.
//
// A Scheduler owns two named registries:
//   - waiting: tasks scheduled (or cycled back) since the last cycle began
//   - running: the snapshot executed by the current cycle
//
// Each cycle moves every waiting task into running, invokes each running task
// once and applies the task's Result (Done, Cont, Again). Tasks scheduled while
// a cycle executes become eligible on the following cycle.
//
// The scheduler runs on its own goroutine and never touches network state.
// Registry mutations are mutex-guarded, so Add/Remove/Cycle may be called from
// any goroutine; Post hands a closure to the scheduler goroutine instead.
package task

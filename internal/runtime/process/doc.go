// Package process provides the fork runtime: every instance is launched as a
// direct child of the supervisor.
//
// Full process-group termination is only guaranteed on Unix, where the child is
// placed in its own process group and signals are delivered to every member of
// that group. On Windows the runtime offers best-effort semantics: signals are
// delivered to the direct child only, and any grandchildren may remain running.
package process

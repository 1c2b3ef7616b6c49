// Package service runs a single job: it turns the job descriptor into a
// child process, forwards everything the child prints to the log sink and
// reports how the run ended.
//
// Overview
// The Pipeline owns one run. It decodes and validates the descriptor,
// resolves the script, builds a ProcessSpec, installs the console
// redirector, connects the sink and hands the spec to a Launcher. Whatever
// happens, the sink is flushed and closed exactly once before Run returns.
//
// Launcher is a thin wrapper around os/exec:
//   - starts the interpreter with the job environment on top of os.Environ
//   - drains stdout and stderr in two goroutines of an errgroup
//   - splits both streams into lines with a private linebuf.Buffer
//   - sends every line as a model.Record of the matching stream
//   - waits for the process, then up to a wait delay for both drains
//
// Data flow:
//
//	Pipeline                 Launcher                  child
//	    |                        |                        |
//	decode, resolve, spec        |                        |
//	redirector + Connect         |                        |
//	    | Run(spec) ------------>| Start() -------------->|
//	    |                        |<-- stdout / stderr ----|
//	    |                        | Feed -> Send(record)   |
//	    |                        | cmd.Wait(), g.Wait() <-| exit
//	    |<------ Result ---------|                        |
//	Outcome, Flush, Close        |                        |
//
// Invariants:
//   - No child is started unless the descriptor is valid and the sink is
//     connected.
//   - All lines of both streams are sent before Run returns, as long as the
//     streams close within the wait delay after the child exited.
//   - A descendant that inherited stdout or stderr keeps the streams open.
//     Run stops reading them once the wait delay expires, so it never
//     outlives the child by more than the delay. Cancelling the context
//     kills the child only, its descendants are left running.
//   - Same stream lines keep their order, stdout and stderr are not ordered
//     against each other.
//   - An unterminated last line is sent when its stream closes.
package service

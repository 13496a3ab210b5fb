// Package debug drives a debug adapter over the Debug Adapter Protocol for
// data extraction.
//
// A Session wraps one adapter connection. Besides execution control it
// exposes the capability set the extraction pipeline consumes: expression
// evaluation in a frame, raw memory reads, the debugger backend behind the
// adapter, and a generation counter that changes at every step boundary.
//
//	┌──────────────┐   evaluate / readMemory   ┌──────────────────┐
//	│   Session    │ ────────────────────────▶ │  debug adapter   │
//	│  generation  │ ◀──────────────────────── │ (gdb/lldb/vsdbg) │
//	└──────────────┘   stopped / terminated    └──────────────────┘
//
// # Session States
//
// Sessions move through Connected, Configuring, Running, Stopped and
// finally Terminated or Disconnected. Start performs the launch handshake:
// the launch request is answered only after configurationDone, so
// breakpoints are set from the configure callback while it is pending.
//
// # Resume
//
// Resume continues the debuggee only when it is stopped with reason
// "pause". Closing a visualization must never leave the program paused, and
// must not run past a breakpoint the user is sitting on either.
//
// # Frames and Variables
//
// FrameTracker remembers the selected frame and reports selection changes;
// VariableInspector finds variables in a frame and Handle turns them into
// model handles with pointer detection.
//
// # Subpackages
//
//   - adapters: launch configurations for cppdbg, lldb-dap, CodeLLDB and cppvsdbg
//   - dap: Debug Adapter Protocol types and client
package debug

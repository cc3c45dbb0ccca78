// Package executor runs operations on the desktop agent's machine.
//
// Every operation returns a map that marshals directly into the result
// frame sent back over the wire. Failures are reported in-band with
// success=false rather than as Go errors: a request must always get an
// answer, and the client is the one who decides what a failure means.
//
// The executor owns the working directory. All relative paths resolve
// against it, ~ expands to the user's home, and cd both moves it and fires
// a hook so the agent can persist it.
//
// Shell and code execution enforce hard timeouts: the process is killed
// and the timeout reported in the result. Search operations cap their
// output (100 glob matches, 100 grep hits at 200 characters each) so a
// degenerate query cannot flood the websocket.
package executor

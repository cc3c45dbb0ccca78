// Package agent implements the tether desktop agent.
//
// The Supervisor dials the relay and keeps the connection alive forever:
// on any drop it reconnects with a doubling backoff (one second up to a
// thirty-second cap) and re-registers, because the relay holds no state
// for a socket until it sees a register frame.
//
// Identity is persisted in ~/.tether-agent/config.json: a generated agent
// id, a 6-character pairing code from an unambiguous alphabet, and the
// working directory, which follows every successful cd.
//
// Incoming operation requests each run in their own goroutine so a
// two-minute bash command cannot block an approval response or a ping.
// Dangerous operations (writes, deletes, shell, code execution) pass
// through the Approver first: the control client gets an approval_request
// and has sixty seconds to answer. Approving with trust elevates the whole
// session; the elevation is one-way and ends with the process.
package agent

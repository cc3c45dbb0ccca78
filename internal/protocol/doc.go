// Package protocol defines the JSON wire vocabulary spoken between desktop
// agents, the relay, and control clients.
//
// Every frame is a single flat JSON object carrying a "type" field. The relay
// routes frames by sniffing only the type and request_id prefix (see Sniff)
// and forwards the raw bytes untouched, so agents and clients may extend
// messages with fields the relay has never heard of.
//
// Operation requests (read_file, bash, ...) carry a request_id; the agent
// answers with a "<op>_result" frame echoing it. The execute operation
// answers with "execution_result". Dangerous operations are preceded by an
// approval_request / approval_response exchange.
package protocol

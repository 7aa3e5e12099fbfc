// Package conversation tracks sales conversations and the funnel metrics
// derived from them.
//
// # Overview
//
// The Tracker sits between the HTTP handlers and the agent pipeline. Each
// user turn is appended to the conversation, handed to a Pipeline, and the
// pipeline's handler trace decides the conversation's stage:
//
//	researcher           -> intake
//	sales_agent          -> qualification
//	qualification_agent  -> qualification
//	presentation_agent   -> presentation
//	negotiation_agent    -> negotiation
//	closing_agent        -> closing
//	completion           -> completed
//
// Only the last handler of the trace sets the stage. Unknown handlers map
// to intake.
//
// # Metrics
//
// Every stage change increments an "old->new" transition counter, records
// time spent in the old stage and counts an entry into the new one. A
// conversation that reaches closing with closing_agent in its trace closes
// a sale once; re-entering closing does not count again. SnapshotMetrics
// derives rates as percentages of total conversations and reports zero
// when there are none.
//
// # Retention
//
// Conversations live in an expirable LRU bounded by MaxActive and IdleTTL.
// Each turn refreshes the idle timer. An evicted conversation that neither
// completed nor closed a sale counts as abandoned at its last stage.
//
// # Concurrency
//
// Turns for the same conversation are serialized; turns for different
// conversations run in parallel. GetConversation returns a snapshot and
// does not wait for an in-flight turn.
//
// # Events
//
// The EventBroadcaster fans out message, stage_transition, response, error
// and done events per conversation id for streaming clients.
package conversation

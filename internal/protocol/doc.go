// Package protocol defines the wire vocabulary of the realtime voice API: the
// closed sets of client and server events, the session, item and response
// resources they carry, and the canonical error shape.
//
// Client events are decoded strictly by [ParseClientEvent]; server events are
// stamped with their type and event_id by the session sequencer through
// [Stamp] and never change after that.
package protocol

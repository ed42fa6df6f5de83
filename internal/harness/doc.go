// Package harness runs conformance scenarios against a real engine.
//
// Each scenario gets a fresh in-memory store, an in-process oracle with
// sequential request ids ("req-1", "req-2", ...) and a deterministic clock,
// so the trace it produces is identical across runs and can be compared
// against a golden file.
//
// # Scenario Format
//
//	name: score_lifecycle
//	description: "Raw reveal, score, score reveal"
//	settings:
//	  weights: {pressure: 40, temperature: 30, flow: 30}
//	  allow_recompute: false
//	  timeout: 5m
//	  rules:
//	    - action: request_raw_reveal
//	      expr: principal == "auditor"
//	steps:
//	  - op: submit
//	    values: {pressure: 100, temperature: 80, flow: 60}
//	    as: r1
//	  - op: request_raw
//	    record: r1
//	    principal: auditor
//	    as: q1
//	  - op: deliver
//	    request: q1
//	  - op: replay
//	    request: q1
//	    expect: ALREADY_CONSUMED
//	assertions:
//	  - type: fields
//	    record: r1
//	    fields: {pressure: 100, temperature: 80, flow: 60}
//
// # Step Ops
//
//   - submit: encrypt values and submit them; "as" names the record
//   - request_raw, request_score: issue a reveal request; "as" names it
//   - compute: compute the encrypted score of a record
//   - sign: have the oracle sign a request's result without delivering it
//   - deliver: sign (if not yet signed) and deliver the callback
//   - replay: deliver the callback signed earlier, again
//   - forge: deliver a callback signed by a committee nobody trusts
//   - invalidate: retire a pending request
//   - advance: move the wall clock forward by "by"
//   - sweep: invalidate requests older than the configured timeout
//
// A step succeeds unless "expect" names the error code it must fail with.
// A record or request reference that is not an alias is used literally.
//
// # Assertion Types
//
//   - fields: the revealed raw fields of a record
//   - score: the revealed score of a record
//   - stage: the state machine position of a record
//   - event_order: event types appear in this relative order
//   - event_count: an event type appears exactly count times
//   - rejection_count: rejected callbacks (optionally of one code)
package harness

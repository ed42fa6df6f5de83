// Package queryir is a small query representation over the audit tables.
//
// A Select names one table, an optional predicate tree and a limit. It is
// validated against a fixed column catalogue and compiled to SQL by
// package querysql, so callers filter the audit log without writing SQL.
//
// Predicates:
//
//	Equals{Field: "type", Value: ir.EventCallbackRejected}   type = ?
//	After{Field: "seq", Value: 40}                           seq > ?
//	And{Predicates: ...}                                     p1 AND p2 ...
//
// Values are restricted to strings, integers and the ir identifier types.
// There are no NULL comparisons, no OR and no joins: every supported
// filter is a conjunction of indexed equality or range tests.
package queryir

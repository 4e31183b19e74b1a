// Package policy implements the decision engine core: the evaluator that
// turns an enriched request plus an active policy set into an auditable
// decision, and the predicate implementations policies can be built from
// (plain Go functions, declarative attribute rules, or compiled Rego
// modules).
package policy

// Package domain contains the core types shared across the decision engine:
// policies, evaluation requests, decisions, and the interfaces consumed from
// external collaborators (policy repository, context providers, risk scorer,
// audit sink).
//
// Types in this package are plain data. Behaviour lives in the packages that
// orchestrate them (pkg/policy, pkg/engine).
package domain

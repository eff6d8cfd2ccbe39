// Package triage provides the business boundary for signaltrace's log triage.
// It defines the Service (decode, analyze, persist, notify), Engine (parse,
// group, and the per-incident evidence/explain/score pool), Store interface
// (persistence), and domain models.
package triage

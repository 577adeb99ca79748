/*
Package budget tracks spend against named budget scopes (user, project, or
global) and admits or rejects requests against a configured USD cap over a
rolling window.

Ledger is the contract both llm/router.Router and llm/streaming.Session
consume: Admit checks a pending request's estimated cost against a scope's
remaining headroom before it is dispatched, and Record books the actual
cost once usage is known. MemoryLedger is the default, process-local
implementation; GormLedger persists the same contract to a SQL table for
deployments that need budget state to survive a restart.
*/
package budget

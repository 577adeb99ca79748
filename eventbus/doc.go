/*
Package eventbus provides dot-hierarchical topic pub/sub with bounded,
independent per-subscriber queues and at-least-once delivery semantics.

Subscribers are expected to be idempotent: each Event carries a stable ID,
and a Block-policy subscriber that is slow may see the same logical update
redelivered after a consumer restart when paired with a durable backend.

An in-memory Bus is sufficient for single-process deployments. For
multi-process durability and replay, JetStreamBackend persists events to a
named NATS JetStream stream and can replay history to new subscribers.
*/
package eventbus

// Package webhooks implements the event delivery engine: inbound
// signature validation, idempotent event ingestion, subscription
// matching, payload transformation, per-destination rate limiting and
// circuit breaking, retried HTTP delivery, and append-only audit
// logging.
//
// The engine guarantees at-least-once delivery per matched
// destination. Duplicate suppression is keyed on the event ID; a
// destination may still see a payload more than once after retries and
// consumers are expected to deduplicate on X-Event-ID.
package webhooks

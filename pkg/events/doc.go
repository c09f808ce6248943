// Package events defines the canonical webhook event envelope.
//
// Every webhook occurrence, inbound or internally generated, is recorded
// as an Event before any delivery work happens. The envelope matches the
// wire format:
//
//	{
//	  "id": "uuid", "type": "ads_spend", "source": "google-ads",
//	  "timestamp": "2024-01-01T00:00:00Z",
//	  "data": {...}, "metadata": {...}
//	}
//
// The event ID doubles as the idempotency key for the event store.
package events

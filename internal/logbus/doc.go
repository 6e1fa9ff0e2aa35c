// Package logbus carries the output of launched scripts.
//
// Every line a script produces becomes an Event, which is appended to a
// per-day durable file and fanned out to live subscribers (the WebSocket
// layer, the log query API, the notifier).
//
// # Delivery
//
// Publish never blocks: each subscriber has a bounded channel and the newest
// event is dropped for a subscriber whose channel is full (drop-newest).
// The durable file is the complete record; the live feed is best-effort.
//
// # Durable format
//
// One line per event, pipe-delimited, four fields:
//
//	TIMESTAMP|SCRIPT_NAME|LEVEL|MESSAGE
//
// The message is the final field and readers split with a field limit of 4,
// so pipes inside messages survive a round trip. Embedded newlines are
// replaced with spaces at write time.
package logbus

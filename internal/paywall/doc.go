// Package paywall implements the HTTP 402 signal paywall. Every signal
// read is a purchase: the first unproofed request is answered with a price
// quote and payment instructions, a proofed retry generates and caches the
// signal, and every later reader of the same (case, signal type) key gets
// the cached copy with no new charge. Purchase idempotency is enforced by
// the store's unique key, with concurrent losers reading the winner's row.
package paywall

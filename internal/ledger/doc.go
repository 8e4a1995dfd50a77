// Package ledger implements the payment ledger behind the paywall: it
// validates purchase amounts against the catalog, settles funds through an
// injected executor, and issues HS256 proof tokens bound to a payment row.
// Verification fails with a distinct reason per violation (not found, type
// mismatch, expired) and never succeeds for an unsettled payment.
package ledger

// Package escalate runs the tiered fraud review pipeline. A case moves
// through a strict stage machine: first-line and deep-dive analysts each
// buy what evidence the per-case budget allows and record a non-final
// opinion, then the tribunal debate renders the single final verdict.
// Agent calls are retried with linear backoff; exhausted retries or
// malformed judgement output fail the case rather than defaulting it.
package escalate

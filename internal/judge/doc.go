// Package judge defines the injected Judgement capability: negotiation
// pitch evaluation, debate argument generation, and arbitration. The
// deterministic Heuristic implementation serves deployments without a
// hosted model and keeps tests reproducible.
package judge

// Package negotiate evaluates discounted price proposals for paywalled
// signals: a deterministic 20-40% discount band gates which proposals even
// reach the qualitative judgement call.
package negotiate

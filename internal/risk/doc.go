// Package risk provides the pluggable risk feature generator and anomaly
// scorer. Both are plain function types so tests and deployments can swap
// in alternative models; the defaults are deterministic.
package risk

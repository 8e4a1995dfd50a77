// Package gateway assembles the fraudgate server: the paywalled signal
// endpoints, the case submission API, and the background escalation runs
// that carry each submitted case to its final verdict.
package gateway

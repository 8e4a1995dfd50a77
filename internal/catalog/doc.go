// Package catalog provides the static signal price/capability table.
// Entries are loaded from YAML at startup; Default() supplies a built-in
// catalog for development and tests.
package catalog

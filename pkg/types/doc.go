/*
Package types defines the shared domain types for pushgate: tenants and
their per-platform credentials, admin records, nonces, and the normalized
submit request the dispatch path operates on.
*/
package types

/*
Package fcm delivers notifications through Firebase Cloud Messaging.

A Pool keeps one messaging client per tenant, built lazily from the
tenant's service-account JSON. Tokens are sent in multicast batches of at
most 500; per-token errors that indicate an unregistered or malformed
token are reported back as invalid so callers can prune them.
*/
package fcm

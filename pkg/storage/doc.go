/*
Package storage provides the durable tenant-credential and nonce store,
backed by a bbolt database file.

Each entity lives in its own bucket with JSON-marshalled values. Tenants
(apps) carry their API secret and enabled flag; per-platform credentials are
stored inline (PEM text for APNs, service-account JSON for FCM) and legacy
path values are rehydrated to inline on write. Nonce consumption runs purge
and conditional insert in a single write transaction, which gives the
at-most-once acceptance guarantee the admission pipeline relies on.
*/
package storage

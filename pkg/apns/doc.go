/*
Package apns delivers notifications through Apple's push service.

A Pool keeps one token-authenticated HTTP/2 client per tenant, built
lazily from the tenant's .p8 key and evicted when the credential changes.
Sends fan out over a bounded number of concurrent pushes per tenant and
run to completion even if the submitting caller disconnects.

Responses with status 410, or with reason BadDeviceToken, Unregistered or
DeviceTokenNotForTopic, mark the token permanently undeliverable; the
token is reported back to the caller for registry cleanup. Other failures
count as transient.
*/
package apns

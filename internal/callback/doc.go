// Package callback reports the terminal outcome of a lifecycle operation to
// the Euphrosyne backend.
//
// # Delivery
//
// Deliver POSTs a JSON Payload to {backend_url}/api/data-lifecycle/operations/callback.
// Delivery is at-least-once: the backend deduplicates on operation_id.
//
//   - 2xx: delivered
//   - 5xx or transport error: retried with exponential backoff
//   - any other status (1xx, 3xx, 4xx): rejected, never retried
//
// After the last attempt the delivery is abandoned and logged with the
// operation id. Reconciliation is the backend's job.
//
// # Authentication
//
// Every request carries "Authorization: Bearer <jwt>", an HS256 token minted
// from the shared JWT secret and valid for five minutes. When a signing
// secret is configured, the body is also signed:
//
//	X-Lifecycle-Signature: sha256=<hex hmac of body>
package callback

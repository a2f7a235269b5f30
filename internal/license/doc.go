// Package license implements the card-key trust engine: an encrypted local
// cache of verification results bound to the machine's hardware fingerprint,
// a client for the remote card-key verification service, a login session that
// prefers valid local trust over network calls, and a heartbeat monitor that
// revalidates trust in the background.
package license

// Package crypto implements the client-side cryptography of the wire
// protocol: hybrid RSA/AES-GCM password envelopes, HMAC request signatures
// and the jazoest checksum, plus passphrase sealing for exported sessions.
package crypto

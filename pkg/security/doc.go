/*
Package security provides at-rest encryption for endpoint HMAC signing
secrets using AES-256-GCM.

Endpoint subscriptions carry a secret used to sign outbound webhook
bodies (see pkg/delivery). That secret is encrypted before it is written
to the configuration store and decrypted only in memory, after the
config cache loads a row.

# Usage

	sm, err := security.NewSecretsManager(encryptionKey) // 32 bytes
	ciphertext, err := sm.EncryptHMACSecret(rawSecret)
	// ... persist ciphertext in the endpoints table ...
	rawSecret, err := sm.DecryptHMACSecret(ciphertext)

# Key Management

cmd/pipeline takes the encryption key directly from configuration and
refuses to start unless it is exactly 32 bytes. DeriveKeyFromDeploymentID
can derive a reproducible key from a stable deployment identifier, but
the pipeline binary does not use it.
*/
package security

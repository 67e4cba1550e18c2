package adb

// Signer is the external collaborator that holds RSA key material. The core
// never generates, stores, or parses private keys; it only asks a Signer to
// sign the 20-byte token the device presents in AUTH(arg0=AuthToken), and
// to hand back its public key for the RSAPublicKey fallback step.
type Signer interface {
	// Sign signs a 20-byte challenge and returns the raw signature bytes.
	Sign(challenge []byte) ([]byte, error)
	// PublicKey returns the ASCII-encoded public key, without a trailing
	// NUL — the core appends it before sending AUTH(arg0=AuthRSAPublicKey).
	PublicKey() ([]byte, error)
}

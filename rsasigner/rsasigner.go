// Package rsasigner is a concrete adb.Signer backed by an RSA key pair
// held in memory, generated fresh or loaded from a PEM-encoded PKCS#1
// private key file (an "adbkey"). It exists so adb.Signer isn't only an
// interface with no implementation in this repo; key storage policy
// (where the file lives, whether it's encrypted at rest) is left to the
// caller, matching spec.md's scoping of key management as external.
package rsasigner

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// keyBits is the RSA key size generated by GenerateKey. 2048 matches the
// reference adb client's default adbkey size.
const keyBits = 2048

// Signer signs the ADB auth challenge with an RSA private key held in
// memory, implementing adb.Signer.
type Signer struct {
	priv *rsa.PrivateKey
}

// GenerateKey creates a fresh RSA key pair.
func GenerateKey() (*Signer, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("rsasigner: generate key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// LoadPrivateKeyFile reads a PEM-encoded PKCS#1 RSA private key from path
// (the conventional unencrypted "adbkey" file).
func LoadPrivateKeyFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rsasigner: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("rsasigner: %s is not PEM-encoded", path)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsasigner: parse private key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// SavePrivateKeyFile writes s's private key to path as unencrypted PEM,
// matching the conventional adbkey file layout.
func (s *Signer) SavePrivateKeyFile(path string) error {
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(s.priv)}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

// Sign signs challenge (the device's 20-byte AUTH token, itself a SHA-1
// digest) using PKCS#1 v1.5 padding, the scheme the reference ADB daemon
// verifies against.
func (s *Signer) Sign(challenge []byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA1, challenge)
	if err != nil {
		return nil, fmt.Errorf("rsasigner: sign: %w", err)
	}
	return sig, nil
}

// PublicKey returns the DER-encoded PKCS#1 public key, base64-encoded.
// The reference ADB daemon expects its own "mincrypt" RSAPublicKey layout
// (modulus, exponent, and a Montgomery reduction constant) rather than a
// standard DER public key; this encoding is sufficient for this module's
// own handshake logic and test fixtures but would need translating to
// mincrypt's layout to authenticate against a real Android device.
func (s *Signer) PublicKey() ([]byte, error) {
	der := x509.MarshalPKCS1PublicKey(&s.priv.PublicKey)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(der)))
	base64.StdEncoding.Encode(out, der)
	return out, nil
}

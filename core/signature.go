package core

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SchemeEd25519 and SchemeSecp256k1 are the only two signature schemes named
// by verify_signature; any other scheme name fails UnsupportedScheme.
const (
	SchemeEd25519   = "ed25519"
	SchemeSecp256k1 = "secp256k1"
)

// VerifySignature implements verify_signature(public_key, message, signature,
// scheme) → bool. Unlike RequireRole-style opcodes this never raises on a bad
// signature, only on an unrecognized scheme name.
func VerifySignature(pubKey, message, signature []byte, scheme string) (bool, *VMError) {
	switch scheme {
	case SchemeEd25519:
		return verifyEd25519(pubKey, message, signature), nil
	case SchemeSecp256k1:
		return verifySecp256k1(pubKey, message, signature), nil
	default:
		return false, errUnsupportedScheme(scheme)
	}
}

func verifyEd25519(pubKey, message, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, signature)
}

// verifySecp256k1 expects a DER-encoded ECDSA signature over the sha256
// digest of message, for a 33-byte compressed (or 65-byte uncompressed)
// public key. Signature.Verify takes a digest, not an arbitrary-length
// message, matching how secp256k1 signers commonly treat the signed value
// as already hashed.
func verifySecp256k1(pubKey, message, signature []byte) bool {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pk)
}

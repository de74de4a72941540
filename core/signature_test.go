package core

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func TestVerifySignatureEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	msg := []byte("hello governance")
	sig := ed25519.Sign(priv, msg)

	ok, verr := VerifySignature(pub, msg, sig, SchemeEd25519)
	if verr != nil {
		t.Fatalf("unexpected error: %v", verr)
	}
	if !ok {
		t.Fatalf("expected a valid signature to verify")
	}

	ok, verr = VerifySignature(pub, []byte("tampered"), sig, SchemeEd25519)
	if verr != nil {
		t.Fatalf("unexpected error: %v", verr)
	}
	if ok {
		t.Fatalf("expected a tampered message to fail verification")
	}
}

func TestVerifySignatureSecp256k1(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	msg := []byte("hello governance")
	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	der := sig.Serialize()

	ok, verr := VerifySignature(pub, msg, der, SchemeSecp256k1)
	if verr != nil {
		t.Fatalf("unexpected error: %v", verr)
	}
	if !ok {
		t.Fatalf("expected a valid secp256k1 signature to verify")
	}

	ok, verr = VerifySignature(pub, []byte("tampered"), der, SchemeSecp256k1)
	if verr != nil {
		t.Fatalf("unexpected error: %v", verr)
	}
	if ok {
		t.Fatalf("expected a tampered message to fail verification")
	}
}

func TestVerifySignatureUnsupportedScheme(t *testing.T) {
	_, verr := VerifySignature(nil, nil, nil, "rsa")
	if verr == nil || verr.Kind != KindUnsupportedScheme {
		t.Fatalf("expected UnsupportedScheme, got %v", verr)
	}
}

func TestVerifySignatureOpcodePushesBoolean(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := []byte("m")
	sig := ed25519.Sign(priv, msg)

	ops := []Operation{
		{Kind: OpPush, PushValue: StringValue(string(pub))},
		{Kind: OpPush, PushValue: StringValue(string(msg))},
		{Kind: OpPush, PushValue: StringValue(string(sig))},
		{Kind: OpVerifySignature, SigScheme: SchemeEd25519},
	}
	res := mustRunTree(t, ops)
	if !res.Stack[0].Bool {
		t.Fatalf("expected verify_signature to push true")
	}
}

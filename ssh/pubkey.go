package ssh

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
)

// SignatureVerified is the witness a successful PubkeyAlgo.Verify returns.
// negotiate.go records it and refuses to send NEWKEYS without one. It is
// an ordinary zero-sized struct, so the compiler does not stop other code
// from constructing one, and deriveKey does not take it as a parameter:
// the receive keys applied on an incoming NEWKEYS are derived without
// checking for it.
type SignatureVerified struct{ _ struct{} }

// Pubkey is a decoded server host key, opaque beyond its algorithm name
// and wire blob; host-key trust policy is entirely the application's
// responsibility, so this core never compares it to anything, it only
// decodes and verifies the signature over it.
type Pubkey struct {
	Algo string
	Blob []byte
}

func (p Pubkey) String() string { return fmt.Sprintf("%s %x", p.Algo, sha1.Sum(p.Blob)) }

// DecodePubkey parses an SSH-wire public-key blob ("string algo-name"
// followed by algorithm-specific fields) far enough to learn its
// algorithm name; full structural decoding is deferred to the matching
// PubkeyAlgo.Verify, which knows the field layout for its own algorithm.
func DecodePubkey(blob []byte) (Pubkey, error) {
	d := newDecoder(blob)
	algo, err := d.StringS()
	if err != nil {
		return Pubkey{}, errDecode("malformed host key blob", err)
	}
	return Pubkey{Algo: algo, Blob: blob}, nil
}

// PubkeyAlgo is a value-typed descriptor for one host-key algorithm.
type PubkeyAlgo struct {
	Name   string
	Verify func(pubkey Pubkey, message, signature []byte) (SignatureVerified, error)
}

func defaultPubkeyAlgos() []*PubkeyAlgo {
	return []*PubkeyAlgo{pubkeyEd25519}
}

func compatiblePubkeyAlgos() []*PubkeyAlgo {
	return []*PubkeyAlgo{pubkeyEd25519, pubkeyRSA}
}

func findPubkeyAlgo(algos []*PubkeyAlgo, name string) *PubkeyAlgo {
	for _, a := range algos {
		if a.Name == name {
			return a
		}
	}
	return nil
}

var pubkeyEd25519 = &PubkeyAlgo{
	Name:   "ssh-ed25519",
	Verify: verifyEd25519,
}

func verifyEd25519(pubkey Pubkey, message, signature []byte) (SignatureVerified, error) {
	d := newDecoder(pubkey.Blob)
	algo, err := d.StringS()
	if err != nil || algo != "ssh-ed25519" {
		return SignatureVerified{}, errDecode("malformed ssh-ed25519 public key", err)
	}
	key, err := d.String()
	if err != nil || len(key) != ed25519.PublicKeySize {
		return SignatureVerified{}, errDecode("malformed ssh-ed25519 public key", err)
	}

	sd := newDecoder(signature)
	sigAlgo, err := sd.StringS()
	if err != nil || sigAlgo != "ssh-ed25519" {
		return SignatureVerified{}, errDecode("malformed ssh-ed25519 signature", err)
	}
	sig, err := sd.String()
	if err != nil || len(sig) != ed25519.SignatureSize {
		return SignatureVerified{}, errDecode("malformed ssh-ed25519 signature", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(key), message, sig) {
		return SignatureVerified{}, errCrypto("ssh-ed25519 signature verification failed", nil)
	}
	return SignatureVerified{}, nil
}

// pubkeyRSA is part of the "compatible" extended algorithm set, kept for
// interop with older servers only.
var pubkeyRSA = &PubkeyAlgo{
	Name:   "ssh-rsa",
	Verify: verifyRSA,
}

func verifyRSA(pubkey Pubkey, message, signature []byte) (SignatureVerified, error) {
	d := newDecoder(pubkey.Blob)
	algo, err := d.StringS()
	if err != nil || algo != "ssh-rsa" {
		return SignatureVerified{}, errDecode("malformed ssh-rsa public key", err)
	}
	eBytes, err := d.Mpint()
	if err != nil {
		return SignatureVerified{}, errDecode("malformed ssh-rsa public key exponent", err)
	}
	nBytes, err := d.Mpint()
	if err != nil {
		return SignatureVerified{}, errDecode("malformed ssh-rsa public key modulus", err)
	}
	pub := &rsa.PublicKey{N: nBytes, E: int(eBytes.Int64())}

	sd := newDecoder(signature)
	sigAlgo, err := sd.StringS()
	if err != nil || sigAlgo != "ssh-rsa" {
		return SignatureVerified{}, errDecode("malformed ssh-rsa signature", err)
	}
	sig, err := sd.String()
	if err != nil {
		return SignatureVerified{}, errDecode("malformed ssh-rsa signature", err)
	}

	digest := sha1.Sum(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return SignatureVerified{}, errCrypto("ssh-rsa signature verification failed", err)
	}
	return SignatureVerified{}, nil
}

package ssh

import (
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// KexInput supplies a Kex object everything derived from the KEXINIT
// exchange it needs to compute the exchange hash (RFC 4253 §8).
type KexInput struct {
	ClientIdent    []byte
	ServerIdent    []byte
	ClientKexInit  []byte
	ServerKexInit  []byte
}

// KexOutput is the result of a completed key exchange.
type KexOutput struct {
	SharedSecret    *big.Int
	ExchangeHash    []byte
	ServerPubkey    []byte
	ServerSignature []byte
}

// Kex is the capability set a key-exchange method exposes to negotiate.go:
// a closed set of tagged variants (one per method) rather than
// open-ended dynamic dispatch, modeled here as an interface because Go
// has no sum types.
type Kex interface {
	// SendPacket returns the next packet this method wants to send, if
	// any. Called repeatedly by negotiate.go until it returns ok==false.
	SendPacket() (payload []byte, ok bool)
	// RecvPacket hands the method an incoming kex-specific packet
	// (message numbers 30-49).
	RecvPacket(msgID byte, payload []byte) error
	// Done reports whether Output is ready to be read.
	Done() bool
	// Output returns the completed exchange; valid only once Done().
	Output(in KexInput) (*KexOutput, error)
	// ComputeHash is this method's hash function (SHA-256 for
	// curve25519-sha256), used again for key derivation (RFC 4253 §7.2).
	ComputeHash(data []byte) []byte
}

// KexAlgo is a value-typed descriptor for one key-exchange method.
type KexAlgo struct {
	Name    string
	MakeKex func(rng io.Reader) (Kex, error)
}

func defaultKexAlgos() []*KexAlgo {
	return []*KexAlgo{kexCurve25519SHA256, kexCurve25519SHA256LibSSH}
}

var kexCurve25519SHA256 = &KexAlgo{
	Name:    "curve25519-sha256",
	MakeKex: newCurve25519Kex,
}

// kexCurve25519SHA256LibSSH is the pre-standardization libssh alias for
// the same method.
var kexCurve25519SHA256LibSSH = &KexAlgo{
	Name:    "curve25519-sha256@libssh.org",
	MakeKex: newCurve25519Kex,
}

func findKexAlgo(algos []*KexAlgo, name string) *KexAlgo {
	for _, a := range algos {
		if a.Name == name {
			return a
		}
	}
	return nil
}

type curve25519Kex struct {
	priv, pub [32]byte
	sent      bool
	reply     *kexECDHReplyMsg
	sharedKey []byte
}

func newCurve25519Kex(rng io.Reader) (Kex, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, errCrypto("failed to read randomness for kex", err)
	}
	// Clamp per RFC 7748.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	var pub [32]byte
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, errCrypto("curve25519 scalar multiplication failed", err)
	}
	copy(pub[:], pubBytes)

	return &curve25519Kex{priv: priv, pub: pub}, nil
}

func (k *curve25519Kex) SendPacket() ([]byte, bool) {
	if k.sent {
		return nil, false
	}
	k.sent = true
	msg := &kexECDHInitMsg{ClientPubkey: k.pub[:]}
	return msg.marshal(), true
}

func (k *curve25519Kex) RecvPacket(msgID byte, payload []byte) error {
	if msgID != msgKexECDHReply {
		return errProtocolf("unexpected kex message %d during curve25519-sha256", msgID)
	}
	reply, err := parseKexECDHReplyMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_KEX_ECDH_REPLY", err)
	}
	if len(reply.ServerPubkey) != 32 {
		return errProtocol("server curve25519 public key has wrong length")
	}
	shared, err := curve25519.X25519(k.priv[:], reply.ServerPubkey)
	if err != nil {
		return errCrypto("curve25519 shared secret computation failed", err)
	}
	k.reply = reply
	k.sharedKey = shared
	return nil
}

func (k *curve25519Kex) Done() bool { return k.reply != nil }

func (k *curve25519Kex) Output(in KexInput) (*KexOutput, error) {
	if k.reply == nil {
		return nil, errProtocol("kex output requested before completion")
	}
	secret := new(big.Int).SetBytes(k.sharedKey)

	e := newEncoder()
	e.PutString(in.ClientIdent)
	e.PutString(in.ServerIdent)
	e.PutString(in.ClientKexInit)
	e.PutString(in.ServerKexInit)
	e.PutString(k.reply.HostKey)
	e.PutString(k.pub[:])
	e.PutString(k.reply.ServerPubkey)
	e.PutMpint(secret)

	hash := k.ComputeHash(e.Bytes())

	return &KexOutput{
		SharedSecret:    secret,
		ExchangeHash:    hash,
		ServerPubkey:    k.reply.HostKey,
		ServerSignature: k.reply.Signature,
	}, nil
}

func (k *curve25519Kex) ComputeHash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

package ssh

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// macVariantKind distinguishes the two MAC-placement regimes the codec
// supports: the MAC is computed either over the cleartext (classic SSH)
// or over the ciphertext ("-etm" suites).
type macVariantKind int

const (
	macEncryptAndMac macVariantKind = iota
	macEncryptThenMac
)

// MacAlgo is a value-typed descriptor for one MAC, registered by name.
// A MacAlgo with an empty Name (macINVALID below) is the sentinel paired
// with an AEAD cipher, which supplies its own authentication and needs no
// MacAlgo.
type MacAlgo struct {
	Name    string
	KeyLen  int
	TagLen  int
	Variant macVariantKind
	MakeMac func(key []byte) hash.Hash
}

// macINVALID is negotiated for a direction whose cipher is AEAD; codec.go
// must never look up a MAC key or tag length through it.
var macINVALID = &MacAlgo{Name: ""}

func (m *MacAlgo) isInvalid() bool { return m == macINVALID || m.Name == "" }

func hmacFactory(h func() hash.Hash, key []byte) hash.Hash {
	return hmac.New(h, key)
}

var macHMACSHA256 = &MacAlgo{
	Name: "hmac-sha2-256", KeyLen: sha256.Size, TagLen: sha256.Size,
	Variant: macEncryptAndMac,
	MakeMac: func(key []byte) hash.Hash { return hmacFactory(sha256.New, key) },
}

// macHMACSHA1 is part of the "compatible" extended algorithm set, kept for
// interop with older servers only.
var macHMACSHA1 = &MacAlgo{
	Name: "hmac-sha1", KeyLen: sha1.Size, TagLen: sha1.Size,
	Variant: macEncryptAndMac,
	MakeMac: func(key []byte) hash.Hash { return hmacFactory(sha1.New, key) },
}

var macHMACSHA256ETM = &MacAlgo{
	Name: "hmac-sha2-256-etm@openssh.com", KeyLen: sha256.Size, TagLen: sha256.Size,
	Variant: macEncryptThenMac,
	MakeMac: func(key []byte) hash.Hash { return hmacFactory(sha256.New, key) },
}

func defaultMacAlgos() []*MacAlgo {
	return []*MacAlgo{macHMACSHA256}
}

func compatibleMacAlgos() []*MacAlgo {
	return []*MacAlgo{macHMACSHA256ETM, macHMACSHA256, macHMACSHA1}
}

func findMacAlgo(algos []*MacAlgo, name string) *MacAlgo {
	for _, a := range algos {
		if a.Name == name {
			return a
		}
	}
	return nil
}

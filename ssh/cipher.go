package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
)

// cipherVariantKind tags the two shapes a CipherAlgo can take, matching the
// spec's polymorphic-algorithm-descriptor design note: a closed tagged
// union of function values, not a class hierarchy.
type cipherVariantKind int

const (
	cipherStandard cipherVariantKind = iota
	cipherAead
)

// CipherAlgo is a value-typed descriptor for one cipher, registered by
// name. Standard ciphers pair with a MacAlgo at NEWKEYS time; AEAD ciphers
// subsume the MAC role and are paired with macINVALID.
type CipherAlgo struct {
	Name     string
	KeyLen   int
	IVLen    int
	BlockLen int
	Variant  cipherVariantKind

	// Standard variant.
	MakeEncrypt func(key, iv []byte) cipher.Stream
	MakeDecrypt func(key, iv []byte) cipher.Stream

	// AEAD variant.
	TagLen  int
	MakeAEAD func(key []byte) (cipher.AEAD, error)
}

func (c *CipherAlgo) isAead() bool { return c.Variant == cipherAead }

func newCTRStream(key, iv []byte) cipher.Stream {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err) // key length mismatches are a programming error, not a protocol error
	}
	return cipher.NewCTR(block, iv)
}

func newCBCEncrypter(key, iv []byte) cipher.Stream {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	return cbcStream{cipher.NewCBCEncrypter(block, iv)}
}

func newCBCDecrypter(key, iv []byte) cipher.Stream {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	return cbcStream{cipher.NewCBCDecrypter(block, iv)}
}

// cbcStream adapts cipher.BlockMode to cipher.Stream so CBC and CTR share
// the same Standard-variant function signature; every call must be made
// with a whole number of blocks, which the codec guarantees via padding.
type cbcStream struct {
	mode cipher.BlockMode
}

func (s cbcStream) XORKeyStream(dst, src []byte) { s.mode.CryptBlocks(dst, src) }

func newTripleDESCBCEncrypter(key, iv []byte) cipher.Stream {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		panic(err)
	}
	return cbcStream{cipher.NewCBCEncrypter(block, iv)}
}

func newTripleDESCBCDecrypter(key, iv []byte) cipher.Stream {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		panic(err)
	}
	return cbcStream{cipher.NewCBCDecrypter(block, iv)}
}

var cipherAES128CTR = &CipherAlgo{
	Name: "aes128-ctr", KeyLen: 16, IVLen: aes.BlockSize, BlockLen: aes.BlockSize,
	Variant: cipherStandard, MakeEncrypt: newCTRStream, MakeDecrypt: newCTRStream,
}

var cipherAES192CTR = &CipherAlgo{
	Name: "aes192-ctr", KeyLen: 24, IVLen: aes.BlockSize, BlockLen: aes.BlockSize,
	Variant: cipherStandard, MakeEncrypt: newCTRStream, MakeDecrypt: newCTRStream,
}

var cipherAES256CTR = &CipherAlgo{
	Name: "aes256-ctr", KeyLen: 32, IVLen: aes.BlockSize, BlockLen: aes.BlockSize,
	Variant: cipherStandard, MakeEncrypt: newCTRStream, MakeDecrypt: newCTRStream,
}

// cipherAES256CBC is part of the "compatible" extended algorithm set,
// kept for interop with older servers only.
var cipherAES256CBC = &CipherAlgo{
	Name: "aes256-cbc", KeyLen: 32, IVLen: aes.BlockSize, BlockLen: aes.BlockSize,
	Variant: cipherStandard, MakeEncrypt: newCBCEncrypter, MakeDecrypt: newCBCDecrypter,
}

var cipherTripleDESCBC = &CipherAlgo{
	Name: "3des-cbc", KeyLen: 24, IVLen: des.BlockSize, BlockLen: des.BlockSize,
	Variant: cipherStandard, MakeEncrypt: newTripleDESCBCEncrypter, MakeDecrypt: newTripleDESCBCDecrypter,
}

// cipherAES128GCM exercises the Aead tagged-union arm; the name matches
// OpenSSH's own identifier for this suite so a standard server
// negotiates cleanly.
var cipherAES128GCM = &CipherAlgo{
	Name: "aes128-gcm@openssh.com", KeyLen: 16, IVLen: 12, BlockLen: aes.BlockSize,
	Variant: cipherAead, TagLen: 16,
	MakeAEAD: func(key []byte) (cipher.AEAD, error) {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	},
}

func defaultCipherAlgos() []*CipherAlgo {
	return []*CipherAlgo{cipherAES128CTR, cipherAES192CTR, cipherAES256CTR}
}

func compatibleCipherAlgos() []*CipherAlgo {
	return append(defaultCipherAlgos(), cipherAES256CBC, cipherTripleDESCBC, cipherAES128GCM)
}

func findCipherAlgo(algos []*CipherAlgo, name string) *CipherAlgo {
	for _, a := range algos {
		if a.Name == name {
			return a
		}
	}
	return nil
}

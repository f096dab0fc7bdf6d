package ssh

import (
	"bufio"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"hash"
	"io"
)

// packetEncryptKind tags the four packet framing/authentication regimes:
// plaintext, classic encrypt+MAC, encrypt-then-MAC, and AEAD.
type packetEncryptKind int

const (
	regimePlain packetEncryptKind = iota
	regimeEncryptAndMac
	regimeEncryptThenMac
	regimeAead
)

// packetEncrypt bundles whichever of stream/mac/aead the active regime
// needs; exactly one of {stream+mac, aead} is populated outside of Plain.
type packetEncrypt struct {
	kind     packetEncryptKind
	stream   cipher.Stream
	mac      hash.Hash
	aead     cipher.AEAD
	iv       []byte
	blockLen int
	tagLen   int
}

type packetDecrypt = packetEncrypt // symmetric shape; direction tells them apart

// sendPipe owns the outbound sequence number and cumulative byte counter,
// and performs framing/encryption immediately: writePacket both frames
// and writes in one call, still returning the assigned sequence number
// so negotiate.go can correlate SSH_MSG_UNIMPLEMENTED replies.
type sendPipe struct {
	seq       uint32
	sentBytes uint64
	encrypt   packetEncrypt
	rng       io.Reader
}

func newSendPipe() *sendPipe {
	return &sendPipe{encrypt: packetEncrypt{kind: regimePlain, blockLen: 8}, rng: rand.Reader}
}

func (p *sendPipe) sentBytesCount() uint64 { return p.sentBytes }

// setEncrypt installs a new regime; this must only ever happen
// immediately after a NEWKEYS boundary.
func (p *sendPipe) setEncrypt(enc packetEncrypt) {
	p.encrypt = enc
}

func computePadding(payloadLen, minBlock int) int {
	if minBlock < 8 {
		minBlock = 8
	}
	total := 4 + 1 + payloadLen
	rem := total % minBlock
	pad := minBlock - rem
	if pad < 4 {
		pad += minBlock
	}
	for 1+payloadLen+pad < 16 {
		pad += minBlock
	}
	for pad > 255 {
		pad -= minBlock
	}
	return pad
}

// writePacket frames, encrypts/MACs, and writes one packet, returning the
// sequence number assigned to it.
func (p *sendPipe) writePacket(w io.Writer, payload []byte) (uint32, error) {
	seq := p.seq
	p.seq++

	enc := &p.encrypt
	padLen := computePadding(len(payload), enc.blockLen)
	padding := make([]byte, padLen)
	if _, err := io.ReadFull(p.rng, padding); err != nil {
		return 0, errCrypto("failed to generate packet padding", err)
	}

	packetLen := uint32(1 + len(payload) + padLen)
	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, packetLen)

	body := make([]byte, 0, 1+len(payload)+padLen)
	body = append(body, byte(padLen))
	body = append(body, payload...)
	body = append(body, padding...)

	var frame []byte
	switch enc.kind {
	case regimePlain:
		frame = append(lengthBytes, body...)

	case regimeEncryptAndMac:
		packet := append(append([]byte{}, lengthBytes...), body...)
		tag := macOver(enc.mac, seq, packet)
		ciphertext := make([]byte, len(packet))
		enc.stream.XORKeyStream(ciphertext, packet)
		frame = make([]byte, 0, len(ciphertext)+len(tag))
		frame = append(frame, ciphertext...)
		frame = append(frame, tag...)

	case regimeEncryptThenMac:
		ciphertext := make([]byte, len(body))
		enc.stream.XORKeyStream(ciphertext, body)
		toMac := append(append([]byte{}, lengthBytes...), ciphertext...)
		tag := macOver(enc.mac, seq, toMac)
		frame = make([]byte, 0, 4+len(ciphertext)+len(tag))
		frame = append(frame, lengthBytes...)
		frame = append(frame, ciphertext...)
		frame = append(frame, tag...)

	case regimeAead:
		nonce := aeadNonce(enc.iv, seq)
		sealed := enc.aead.Seal(nil, nonce, body, lengthBytes)
		frame = make([]byte, 0, 4+len(sealed))
		frame = append(frame, lengthBytes...)
		frame = append(frame, sealed...)

	default:
		return 0, errProtocol("unknown send encryption regime")
	}

	if _, err := w.Write(frame); err != nil {
		return 0, err
	}
	p.sentBytes += uint64(len(frame))
	return seq, nil
}

func macOver(mac hash.Hash, seq uint32, data []byte) []byte {
	mac.Reset()
	var seqBytes [4]byte
	binary.BigEndian.PutUint32(seqBytes[:], seq)
	mac.Write(seqBytes[:])
	mac.Write(data)
	return mac.Sum(nil)
}

func aeadNonce(iv []byte, seq uint32) []byte {
	nonce := make([]byte, 12)
	if len(iv) >= 4 {
		copy(nonce, iv[:4])
	}
	binary.BigEndian.PutUint64(nonce[4:], uint64(seq))
	return nonce
}

// recvPipe mirrors sendPipe for the inbound direction.
type recvPipe struct {
	seq        uint32
	recvdBytes uint64
	decrypt    packetDecrypt
}

func newRecvPipe() *recvPipe {
	return &recvPipe{decrypt: packetDecrypt{kind: regimePlain, blockLen: 8}}
}

func (p *recvPipe) recvdBytesCount() uint64 { return p.recvdBytes }

func (p *recvPipe) setDecrypt(dec packetDecrypt) {
	p.decrypt = dec
}

const maxPacketLength = 35000

// readPacket reads and authenticates exactly one packet. r must be
// buffered (bufio.Reader) so partial reads of the head don't lose bytes.
func (p *recvPipe) readPacket(r *bufio.Reader) ([]byte, error) {
	seq := p.seq
	p.seq++

	dec := &p.decrypt
	minBlock := dec.blockLen
	if minBlock < 8 {
		minBlock = 8
	}

	switch dec.kind {
	case regimePlain:
		lengthBytes, err := readN(r, 4)
		if err != nil {
			return nil, err
		}
		packetLen := binary.BigEndian.Uint32(lengthBytes)
		if err := checkPacketLen(packetLen, minBlock); err != nil {
			return nil, err
		}
		body, err := readN(r, int(packetLen))
		if err != nil {
			return nil, err
		}
		p.recvdBytes += uint64(4 + len(body))
		return stripPadding(body)

	case regimeEncryptAndMac:
		// The length field is encrypted along with the rest of the
		// packet, so decrypt the first cipher block to learn it.
		head, err := readN(r, minBlock)
		if err != nil {
			return nil, err
		}
		dec.stream.XORKeyStream(head, head)
		packetLen := binary.BigEndian.Uint32(head[:4])
		if err := checkPacketLen(packetLen, minBlock); err != nil {
			return nil, err
		}
		rest, err := readN(r, int(packetLen)+4-minBlock)
		if err != nil {
			return nil, err
		}
		tag, err := readN(r, dec.tagLen)
		if err != nil {
			return nil, err
		}
		dec.stream.XORKeyStream(rest, rest)
		plain := append(head, rest...)
		wantTag := macOver(dec.mac, seq, plain)
		if !hmac.Equal(tag, wantTag) {
			return nil, errCrypto("mac verification failed", nil)
		}
		p.recvdBytes += uint64(len(plain) + len(tag))
		return stripPadding(plain[4:])

	case regimeEncryptThenMac:
		lengthBytes, err := readN(r, 4)
		if err != nil {
			return nil, err
		}
		packetLen := binary.BigEndian.Uint32(lengthBytes)
		if err := checkPacketLen(packetLen, minBlock); err != nil {
			return nil, err
		}
		ciphertext, err := readN(r, int(packetLen))
		if err != nil {
			return nil, err
		}
		tag, err := readN(r, dec.tagLen)
		if err != nil {
			return nil, err
		}
		wantTag := macOver(dec.mac, seq, append(append([]byte{}, lengthBytes...), ciphertext...))
		if !hmac.Equal(tag, wantTag) {
			return nil, errCrypto("mac verification failed", nil)
		}
		plain := make([]byte, len(ciphertext))
		dec.stream.XORKeyStream(plain, ciphertext)
		p.recvdBytes += uint64(4 + len(ciphertext) + len(tag))
		return stripPadding(plain)

	case regimeAead:
		lengthBytes, err := readN(r, 4)
		if err != nil {
			return nil, err
		}
		packetLen := binary.BigEndian.Uint32(lengthBytes)
		if err := checkPacketLen(packetLen, minBlock); err != nil {
			return nil, err
		}
		sealed, err := readN(r, int(packetLen)+dec.tagLen)
		if err != nil {
			return nil, err
		}
		nonce := aeadNonce(dec.iv, seq)
		plain, err := dec.aead.Open(nil, nonce, sealed, lengthBytes)
		if err != nil {
			return nil, errCrypto("aead verification failed", err)
		}
		p.recvdBytes += uint64(4 + len(sealed))
		return stripPadding(plain)

	default:
		return nil, errProtocol("unknown receive encryption regime")
	}
}

func checkPacketLen(packetLen uint32, minBlock int) error {
	if packetLen > maxPacketLength {
		return errProtocolf("packet length %d exceeds maximum %d", packetLen, maxPacketLength)
	}
	if packetLen < 16 {
		return errProtocolf("packet length %d below minimum 16", packetLen)
	}
	if (packetLen+4)%uint32(minBlock) != 0 {
		return errProtocolf("packet length %d is not a multiple of the cipher block length %d", packetLen, minBlock)
	}
	return nil
}

func stripPadding(body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, errProtocol("packet body too short to contain padding length")
	}
	padLen := int(body[0])
	if padLen+1 > len(body) {
		return nil, errProtocol("padding length exceeds packet body")
	}
	payload := body[1 : len(body)-padLen]
	return payload, nil
}

func readN(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

package ssh

import (
	"crypto/rand"
	"time"
)

// negotiatePhase enumerates the stages of one key-exchange cycle: sending
// and receiving KEXINIT, running the chosen kex method, accepting the
// host key, exchanging NEWKEYS, and settling back to idle.
type negotiatePhase int

const (
	phaseIdle negotiatePhase = iota
	phaseKexInit
	phaseKex
	phaseAcceptPubkey
	phaseNewKeys
	phaseDone
)

type ourKexInit struct {
	payload       []byte
	kexAlgos      []*KexAlgo
	hostKeyAlgos  []*PubkeyAlgo
	cipherAlgos   []*CipherAlgo
	macAlgos      []*MacAlgo
	packetSeq     uint32
}

type theirKexInit struct {
	payload      []byte
	kexAlgos     []string
	hostKeyAlgos []string
	ciphersCTS   []string
	ciphersSTC   []string
	macsCTS      []string
	macsSTC      []string
}

type negotiatedAlgos struct {
	kex       *KexAlgo
	hostKey   *PubkeyAlgo
	cipherCTS *CipherAlgo
	cipherSTC *CipherAlgo
	macCTS    *MacAlgo
	macSTC    *MacAlgo
}

type lastKex struct {
	done       bool
	recvdBytes uint64
	sentBytes  uint64
	at         time.Time
}

// negotiateState carries the sub-state for one key-exchange cycle; it
// lives on clientState and is replaced wholesale when a kex cycle
// reaches Done.
type negotiateState struct {
	phase            negotiatePhase
	ourInit          *ourKexInit
	theirInit        *theirKexInit
	algos            *negotiatedAlgos
	kex              Kex
	kexOutput        *KexOutput
	sigVerified      *SignatureVerified
	pubkeyAccepted   bool
	newKeysSent      bool
	newKeysRecvd     bool
	doneWaiters      []chan error
	pendingEvent     *ClientEvent
	acceptCh         chan bool
}

func newNegotiateState() *negotiateState {
	return &negotiateState{phase: phaseKexInit}
}

// pumpNegotiate advances negotiation by one step and reports whether it
// made progress, mirroring the Rust `pump_negotiate`'s Pump::Progress /
// Pump::Pending return, translated into "call me again before blocking".
func pumpNegotiate(c *clientState) (bool, error) {
	ns := c.negotiate

	switch ns.phase {
	case phaseIdle:
		if c.auth.authenticated {
			recvdAfter := c.recv.recvdBytesCount() - c.lastKex.recvdBytes
			sentAfter := c.send.sentBytesCount() - c.lastKex.sentBytes
			durAfter := time.Since(c.lastKex.at)
			if max64(recvdAfter, sentAfter) > c.config.RekeyAfterBytes || durAfter > c.config.RekeyAfterDuration {
				startKex(c, nil)
				return true, nil
			}
		}
		return false, nil

	case phaseKexInit:
		if ns.ourInit == nil {
			init, err := sendKexInit(c)
			if err != nil {
				return false, err
			}
			ns.ourInit = init
		}
		if ns.ourInit != nil && ns.theirInit != nil {
			algos, err := negotiateAlgos(ns.ourInit, ns.theirInit)
			if err != nil {
				return false, err
			}
			kex, err := algos.kex.MakeKex(rand.Reader)
			if err != nil {
				return false, err
			}
			ns.algos = algos
			ns.kex = kex
			ns.phase = phaseKex
			return true, nil
		}
		return false, nil

	case phaseKex:
		if payload, ok := ns.kex.SendPacket(); ok {
			if _, err := c.send.writePacket(c.stream, payload); err != nil {
				return false, err
			}
			return true, nil
		}
		if !ns.kex.Done() {
			return false, nil
		}

		in := KexInput{
			ClientIdent:   c.ourIdent,
			ServerIdent:   c.theirIdent,
			ClientKexInit: ns.ourInit.payload,
			ServerKexInit: ns.theirInit.payload,
		}
		out, err := ns.kex.Output(in)
		if err != nil {
			return false, err
		}
		if c.sessionID == nil {
			c.sessionID = out.ExchangeHash
		}

		pubkey, err := DecodePubkey(out.ServerPubkey)
		if err != nil {
			return false, err
		}
		c.logger.WithField("host_key_algo", pubkey.Algo).Debug("decoded server host key")

		verified, err := ns.algos.hostKey.Verify(pubkey, out.ExchangeHash, out.ServerSignature)
		if err != nil {
			return false, err
		}
		ns.sigVerified = &verified
		ns.kexOutput = out

		ns.acceptCh = make(chan bool, 1)
		ns.pendingEvent = &ClientEvent{Kind: EventServerPubkey, Pubkey: pubkey, accept: ns.acceptCh, client: c.selfHandle}
		ns.phase = phaseAcceptPubkey
		return true, nil

	case phaseAcceptPubkey:
		if ns.pendingEvent != nil {
			ev := ns.pendingEvent
			ns.pendingEvent = nil
			// Bounded (capacity 1) send; this is the designed
			// backpressure point: a slow or absent consumer
			// stalls the driver here.
			c.events <- *ev
		}
		select {
		case accepted, ok := <-ns.acceptCh:
			if !ok || !accepted {
				return false, ErrPubkeyRejected
			}
			ns.pubkeyAccepted = true
			ns.phase = phaseNewKeys
			return true, nil
		default:
			return false, nil
		}

	case phaseNewKeys:
		if ns.sigVerified == nil || !ns.pubkeyAccepted {
			return false, errProtocol("reached NewKeys phase without a verified, accepted host key")
		}
		if !ns.newKeysSent {
			if err := sendNewKeys(c); err != nil {
				return false, err
			}
			ns.newKeysSent = true
			if err := maybeSendExtInfo(c); err != nil {
				return false, err
			}
			return true, nil
		}
		if ns.newKeysSent && ns.newKeysRecvd {
			ns.phase = phaseDone
			return true, nil
		}
		return false, nil

	case phaseDone:
		for _, w := range ns.doneWaiters {
			w <- nil
			close(w)
		}
		c.metrics.rekeyDone()
		c.lastKex = lastKex{
			done:       true,
			recvdBytes: c.recv.recvdBytesCount(),
			sentBytes:  c.send.sentBytesCount(),
			at:         time.Now(),
		}
		c.negotiate = &negotiateState{phase: phaseIdle}
		return true, nil
	}
	return false, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func sendKexInit(c *clientState) (*ourKexInit, error) {
	var cookie [16]byte
	if _, err := rand.Read(cookie[:]); err != nil {
		return nil, errCrypto("failed to generate kexinit cookie", err)
	}

	kexNames := algoNames(c.config.KexAlgos, func(a *KexAlgo) string { return a.Name })
	kexNames = append(kexNames, "ext-info-c") // RFC 8308

	msg := &kexInitMsg{
		Cookie:         cookie,
		KexAlgos:       kexNames,
		ServerHostKeys: algoNames(c.config.HostKeyAlgos, func(a *PubkeyAlgo) string { return a.Name }),
		CiphersCTS:     algoNames(c.config.CipherAlgos, func(a *CipherAlgo) string { return a.Name }),
		CiphersSTC:     algoNames(c.config.CipherAlgos, func(a *CipherAlgo) string { return a.Name }),
		MACsCTS:        algoNames(c.config.MacAlgos, func(a *MacAlgo) string { return a.Name }),
		MACsSTC:        algoNames(c.config.MacAlgos, func(a *MacAlgo) string { return a.Name }),
		CompressionCTS: []string{"none"},
		CompressionSTC: []string{"none"},
	}
	payload := msg.marshal()
	seq, err := c.send.writePacket(c.stream, payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("sent SSH_MSG_KEXINIT")

	return &ourKexInit{
		payload:      payload,
		kexAlgos:     c.config.KexAlgos,
		hostKeyAlgos: c.config.HostKeyAlgos,
		cipherAlgos:  c.config.CipherAlgos,
		macAlgos:     c.config.MacAlgos,
		packetSeq:    seq,
	}, nil
}

func algoNames[T any](algos []T, name func(T) string) []string {
	out := make([]string, len(algos))
	for i, a := range algos {
		out[i] = name(a)
	}
	return out
}

func recvKexInit(c *clientState, payload []byte) error {
	msg, err := parseKexInitMsg(payload)
	if err != nil {
		return errDecode("malformed SSH_MSG_KEXINIT", err)
	}
	if msg.FirstKexFollows {
		return errProtocol("received SSH_MSG_KEXINIT with first_kex_packet_follows set")
	}

	ns := c.negotiate
	switch ns.phase {
	case phaseIdle, phaseKexInit:
		if ns.theirInit != nil {
			return errProtocol("received SSH_MSG_KEXINIT during negotiation")
		}
		ns.theirInit = &theirKexInit{
			payload:      payload,
			kexAlgos:     msg.KexAlgos,
			hostKeyAlgos: msg.ServerHostKeys,
			ciphersCTS:   msg.CiphersCTS,
			ciphersSTC:   msg.CiphersSTC,
			macsCTS:      msg.MACsCTS,
			macsSTC:      msg.MACsSTC,
		}
		ns.phase = phaseKexInit
		return nil
	default:
		return errProtocol("received SSH_MSG_KEXINIT during negotiation")
	}
}

func recvKexPacket(c *clientState, msgID byte, payload []byte) error {
	if c.negotiate.kex == nil {
		return errProtocol("received unexpected kex message")
	}
	return c.negotiate.kex.RecvPacket(msgID, payload)
}

func negotiateAlgos(ours *ourKexInit, theirs *theirKexInit) (*negotiatedAlgos, error) {
	kex, err := pickAlgo("key exchange", ours.kexAlgos, theirs.kexAlgos, func(a *KexAlgo) string { return a.Name })
	if err != nil {
		return nil, err
	}
	hostKey, err := pickAlgo("server public key", ours.hostKeyAlgos, theirs.hostKeyAlgos, func(a *PubkeyAlgo) string { return a.Name })
	if err != nil {
		return nil, err
	}
	cipherCTS, err := pickAlgo("cipher client-to-server", ours.cipherAlgos, theirs.ciphersCTS, func(a *CipherAlgo) string { return a.Name })
	if err != nil {
		return nil, err
	}
	cipherSTC, err := pickAlgo("cipher server-to-client", ours.cipherAlgos, theirs.ciphersSTC, func(a *CipherAlgo) string { return a.Name })
	if err != nil {
		return nil, err
	}

	macCTS, err := pickMacAlgo(cipherCTS, "mac client-to-server", ours.macAlgos, theirs.macsCTS)
	if err != nil {
		return nil, err
	}
	macSTC, err := pickMacAlgo(cipherSTC, "mac server-to-client", ours.macAlgos, theirs.macsSTC)
	if err != nil {
		return nil, err
	}

	return &negotiatedAlgos{kex: kex, hostKey: hostKey, cipherCTS: cipherCTS, cipherSTC: cipherSTC, macCTS: macCTS, macSTC: macSTC}, nil
}

func pickAlgo[T any](kind string, ours []T, theirs []string, name func(T) string) (T, error) {
	for _, our := range ours {
		for _, their := range theirs {
			if name(our) == their {
				return our, nil
			}
		}
	}
	var zero T
	return zero, errAlgoNegotiate(kind, algoNames(ours, name), theirs)
}

func pickMacAlgo(cipherAlgo *CipherAlgo, kind string, ours []*MacAlgo, theirs []string) (*MacAlgo, error) {
	if cipherAlgo.isAead() {
		return macINVALID, nil
	}
	return pickAlgo(kind, ours, theirs, func(a *MacAlgo) string { return a.Name })
}

func sendNewKeys(c *clientState) error {
	algos := c.negotiate.algos

	cipherKey := deriveKey(c, 'C', algos.cipherCTS.KeyLen)
	cipherIV := deriveKey(c, 'A', algos.cipherCTS.IVLen)

	enc := packetEncrypt{blockLen: algos.cipherCTS.BlockLen}
	if algos.cipherCTS.isAead() {
		aead, err := algos.cipherCTS.MakeAEAD(cipherKey)
		if err != nil {
			return errCrypto("failed to construct send AEAD cipher", err)
		}
		enc.kind = regimeAead
		enc.aead = aead
		enc.iv = cipherIV
		enc.tagLen = algos.cipherCTS.TagLen
	} else {
		enc.stream = algos.cipherCTS.MakeEncrypt(cipherKey, cipherIV)
		macKey := deriveKey(c, 'E', algos.macCTS.KeyLen)
		enc.mac = algos.macCTS.MakeMac(macKey)
		enc.tagLen = algos.macCTS.TagLen
		if algos.macCTS.Variant == macEncryptThenMac {
			enc.kind = regimeEncryptThenMac
		} else {
			enc.kind = regimeEncryptAndMac
		}
	}

	if _, err := c.send.writePacket(c.stream, marshalNewKeys()); err != nil {
		return err
	}
	c.send.setEncrypt(enc)
	c.logger.Debug("sent SSH_MSG_NEWKEYS and applied new keys")
	return nil
}

func recvNewKeys(c *clientState, payload []byte) error {
	ns := c.negotiate
	switch ns.phase {
	case phaseKex, phaseAcceptPubkey, phaseNewKeys:
		if ns.newKeysRecvd {
			return errProtocol("received SSH_MSG_NEWKEYS twice")
		}
	default:
		return errProtocol("received unexpected SSH_MSG_NEWKEYS")
	}

	algos := ns.algos
	cipherKey := deriveKey(c, 'D', algos.cipherSTC.KeyLen)
	cipherIV := deriveKey(c, 'B', algos.cipherSTC.IVLen)

	dec := packetDecrypt{blockLen: algos.cipherSTC.BlockLen}
	if algos.cipherSTC.isAead() {
		aead, err := algos.cipherSTC.MakeAEAD(cipherKey)
		if err != nil {
			return errCrypto("failed to construct receive AEAD cipher", err)
		}
		dec.kind = regimeAead
		dec.aead = aead
		dec.iv = cipherIV
		dec.tagLen = algos.cipherSTC.TagLen
	} else {
		dec.stream = algos.cipherSTC.MakeDecrypt(cipherKey, cipherIV)
		macKey := deriveKey(c, 'F', algos.macSTC.KeyLen)
		dec.mac = algos.macSTC.MakeMac(macKey)
		dec.tagLen = algos.macSTC.TagLen
		if algos.macSTC.Variant == macEncryptThenMac {
			dec.kind = regimeEncryptThenMac
		} else {
			dec.kind = regimeEncryptAndMac
		}
	}

	c.recv.setDecrypt(dec)
	ns.newKeysRecvd = true
	c.logger.Debug("received SSH_MSG_NEWKEYS and applied new keys")
	return nil
}

// deriveKey implements RFC 4253 §7.2's key-derivation function.
func deriveKey(c *clientState, letter byte, keyLen int) []byte {
	ns := c.negotiate
	kex := ns.kex
	out := ns.kexOutput

	prefix := newEncoder()
	prefix.PutMpint(out.SharedSecret)
	prefix.PutRaw(out.ExchangeHash)

	first := newEncoder()
	first.PutRaw(prefix.Bytes())
	first.PutU8(letter)
	first.PutRaw(c.sessionID)
	key := kex.ComputeHash(first.Bytes())

	for len(key) < keyLen {
		next := newEncoder()
		next.PutRaw(prefix.Bytes())
		next.PutRaw(key)
		key = append(key, kex.ComputeHash(next.Bytes())...)
	}
	return key[:keyLen]
}

func maybeSendExtInfo(c *clientState) error {
	extInfoS := false
	for _, name := range c.negotiate.theirInit.kexAlgos {
		if name == "ext-info-s" {
			extInfoS = true
			break
		}
	}
	if !c.lastKex.done && extInfoS {
		if _, err := c.send.writePacket(c.stream, marshalExtInfo()); err != nil {
			return err
		}
	}
	return nil
}

// recvUnimplemented handles a peer's SSH_MSG_UNIMPLEMENTED. It returns
// true if the unimplemented packet was consumed as a KEXINIT rejection.
func recvUnimplemented(c *clientState, packetSeq uint32) (bool, error) {
	ns := c.negotiate
	if ns.ourInit == nil || ns.ourInit.packetSeq != packetSeq {
		return false, nil
	}
	if ns.theirInit != nil {
		return false, errProtocol("peer rejected our SSH_MSG_KEXINIT, but they sent their own")
	}
	if !c.lastKex.done {
		return false, errProtocol("peer rejected our first SSH_MSG_KEXINIT")
	}
	for _, w := range ns.doneWaiters {
		w <- ErrRekeyRejected
		close(w)
	}
	c.negotiate = &negotiateState{phase: phaseIdle}
	return true, nil
}

func isNegotiateReady(c *clientState) bool {
	return c.negotiate.phase == phaseIdle
}

// startKex requests a (re)key exchange; doneCh, if non-nil, is notified
// once the cycle completes (or is rejected via RekeyRejected).
func startKex(c *clientState, doneCh chan error) {
	if c.negotiate.phase == phaseIdle {
		c.negotiate.phase = phaseKexInit
	}
	if doneCh != nil {
		c.negotiate.doneWaiters = append(c.negotiate.doneWaiters, doneCh)
	}
}

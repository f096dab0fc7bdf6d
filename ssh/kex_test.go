package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func sharedSecretForTest(priv, peerPub []byte) (*big.Int, error) {
	shared, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(shared), nil
}

// TestCurve25519KexAgreement drives both sides of a curve25519-sha256
// exchange in-process and checks they agree on the exchange hash, the
// property key derivation in negotiate.go depends on.
func TestCurve25519KexAgreement(t *testing.T) {
	clientIdent := []byte("SSH-2.0-client")
	serverIdent := []byte("SSH-2.0-server")
	clientKexInit := []byte("client-kexinit-payload")
	serverKexInit := []byte("server-kexinit-payload")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKeyBlob := marshalEd25519Pubkey(pub)

	clientKex, err := newCurve25519Kex(rand.Reader)
	require.NoError(t, err)
	clientMsg, ok := clientKex.SendPacket()
	require.True(t, ok)
	_, ok = clientKex.SendPacket()
	require.False(t, ok, "SendPacket must only offer the init message once")

	clientInit, err := parseKexECDHInitForTest(clientMsg)
	require.NoError(t, err)

	serverKex, err := newCurve25519Kex(rand.Reader)
	require.NoError(t, err)
	serverEphemeral := serverKex.(*curve25519Kex).pub[:]

	shared, err := sharedSecretForTest(serverKex.(*curve25519Kex).priv[:], clientInit)
	require.NoError(t, err)

	e := newEncoder()
	e.PutString(clientIdent)
	e.PutString(serverIdent)
	e.PutString(clientKexInit)
	e.PutString(serverKexInit)
	e.PutString(hostKeyBlob)
	e.PutString(clientInit)
	e.PutString(serverEphemeral)
	e.PutMpint(shared)
	wantHash := serverKex.ComputeHash(e.Bytes())

	sig := ed25519.Sign(priv, wantHash)
	sigBlob := marshalEd25519Signature(sig)

	reply := &kexECDHReplyMsg{HostKey: hostKeyBlob, ServerPubkey: serverEphemeral, Signature: sigBlob}
	require.NoError(t, clientKex.RecvPacket(msgKexECDHReply, reply.marshalForTest()))
	require.True(t, clientKex.Done())

	out, err := clientKex.Output(KexInput{
		ClientIdent:   clientIdent,
		ServerIdent:   serverIdent,
		ClientKexInit: clientKexInit,
		ServerKexInit: serverKexInit,
	})
	require.NoError(t, err)
	require.Equal(t, wantHash, out.ExchangeHash)

	pubkey, err := DecodePubkey(out.ServerPubkey)
	require.NoError(t, err)
	_, err = pubkeyEd25519.Verify(pubkey, out.ExchangeHash, out.ServerSignature)
	require.NoError(t, err)
}

func marshalEd25519Pubkey(pub ed25519.PublicKey) []byte {
	e := newEncoder()
	e.PutStringS("ssh-ed25519")
	e.PutString(pub)
	return e.Bytes()
}

func marshalEd25519Signature(sig []byte) []byte {
	e := newEncoder()
	e.PutStringS("ssh-ed25519")
	e.PutString(sig)
	return e.Bytes()
}

func parseKexECDHInitForTest(payload []byte) ([]byte, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	return d.String()
}

func (m *kexECDHReplyMsg) marshalForTest() []byte {
	e := newEncoder()
	e.PutU8(msgKexECDHReply)
	e.PutString(m.HostKey)
	e.PutString(m.ServerPubkey)
	e.PutString(m.Signature)
	return e.Bytes()
}

package ssh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickAlgoFirstOursWins(t *testing.T) {
	got, err := pickAlgo("test", []*CipherAlgo{cipherAES128CTR, cipherAES256CTR}, []string{"aes256-ctr", "aes128-ctr"}, func(a *CipherAlgo) string { return a.Name })
	require.NoError(t, err)
	// Our first preference (aes128-ctr) must win even though the peer
	// listed aes256-ctr first, per RFC 4253 §7.1.
	require.Equal(t, "aes128-ctr", got.Name)
}

func TestPickAlgoNoOverlap(t *testing.T) {
	_, err := pickAlgo("test", []*CipherAlgo{cipherAES128CTR}, []string{"3des-cbc"}, func(a *CipherAlgo) string { return a.Name })
	require.Error(t, err)
	var negErr *AlgoNegotiateError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, "test", negErr.AlgoKind)
}

func TestPickMacAlgoAeadSentinel(t *testing.T) {
	mac, err := pickMacAlgo(cipherAES128GCM, "mac", defaultMacAlgos(), []string{"hmac-sha2-256"})
	require.NoError(t, err)
	require.True(t, mac.isInvalid())
}

func TestPickMacAlgoNonAead(t *testing.T) {
	mac, err := pickMacAlgo(cipherAES128CTR, "mac", defaultMacAlgos(), []string{"hmac-sha2-256"})
	require.NoError(t, err)
	require.Equal(t, "hmac-sha2-256", mac.Name)
}

func TestAlgoNames(t *testing.T) {
	names := algoNames(defaultCipherAlgos(), func(a *CipherAlgo) string { return a.Name })
	require.Equal(t, []string{"aes128-ctr", "aes192-ctr", "aes256-ctr"}, names)
}

func TestKexInitMarshalParseRoundTrip(t *testing.T) {
	msg := &kexInitMsg{
		KexAlgos:       []string{"curve25519-sha256"},
		ServerHostKeys: []string{"ssh-ed25519"},
		CiphersCTS:     []string{"aes128-ctr"},
		CiphersSTC:     []string{"aes128-ctr"},
		MACsCTS:        []string{"hmac-sha2-256"},
		MACsSTC:        []string{"hmac-sha2-256"},
		CompressionCTS: []string{"none"},
		CompressionSTC: []string{"none"},
	}
	payload := msg.marshal()
	got, err := parseKexInitMsg(payload)
	require.NoError(t, err)
	require.Equal(t, msg.KexAlgos, got.KexAlgos)
	require.Equal(t, msg.ServerHostKeys, got.ServerHostKeys)
	require.Equal(t, msg.CiphersCTS, got.CiphersCTS)
	require.False(t, got.FirstKexFollows)
}

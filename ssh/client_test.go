package ssh

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadIdentLineSkipsBanner(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("Welcome to our server!\r\nSSH-2.0-OpenSSH_9.6\r\nSSH_MSG_KEXINIT follows...\r\n"))
	ident, err := readIdentLine(br)
	require.NoError(t, err)
	require.Equal(t, "SSH-2.0-OpenSSH_9.6", string(ident))
}

func TestReadIdentLineImmediate(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("SSH-2.0-mymodule_1.0\r\n"))
	ident, err := readIdentLine(br)
	require.NoError(t, err)
	require.Equal(t, "SSH-2.0-mymodule_1.0", string(ident))
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	require.NotEmpty(t, cfg.KexAlgos)
	require.NotEmpty(t, cfg.HostKeyAlgos)
	require.NotEmpty(t, cfg.CipherAlgos)
	require.NotEmpty(t, cfg.MacAlgos)
	require.Equal(t, uint64(defaultRekeyAfterBytes), cfg.RekeyAfterBytes)
	require.NotNil(t, cfg.Logger)
}

func TestConfigCompatWidensAlgoSets(t *testing.T) {
	cfg := Config{Compat: true}
	cfg.setDefaults()
	require.Contains(t, algoNames(cfg.HostKeyAlgos, func(a *PubkeyAlgo) string { return a.Name }), "ssh-rsa")
}

package ssh

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	e := newEncoder()
	e.PutU8(7)
	e.PutBool(true)
	e.PutU32(123456)
	e.PutU64(9876543210)
	e.PutStringS("hello")
	e.PutNameList([]string{"aes128-ctr", "aes256-ctr"})
	e.PutMpint(big.NewInt(0))
	e.PutMpint(big.NewInt(1))
	e.PutMpint(big.NewInt(255)) // needs a leading zero byte

	d := newDecoder(e.Bytes())
	b, err := d.U8()
	require.NoError(t, err)
	require.Equal(t, byte(7), b)

	boolVal, err := d.Bool()
	require.NoError(t, err)
	require.True(t, boolVal)

	u32, err := d.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(123456), u32)

	u64, err := d.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(9876543210), u64)

	s, err := d.StringS()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	names, err := d.NameList()
	require.NoError(t, err)
	require.Equal(t, []string{"aes128-ctr", "aes256-ctr"}, names)

	zero, err := d.Mpint()
	require.NoError(t, err)
	require.Equal(t, 0, zero.Sign())

	one, err := d.Mpint()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1), one)

	v255, err := d.Mpint()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(255), v255)

	require.True(t, d.done())
}

func TestMpintLeadingZeroByte(t *testing.T) {
	e := newEncoder()
	e.PutMpint(big.NewInt(255))
	d := newDecoder(e.Bytes())
	length, err := d.U32()
	require.NoError(t, err)
	// 255 = 0xff; the high bit is set, so a leading zero byte is required,
	// making the encoded string two bytes long rather than one.
	require.Equal(t, uint32(2), length)
}

func TestNameListEmpty(t *testing.T) {
	e := newEncoder()
	e.PutNameList(nil)
	d := newDecoder(e.Bytes())
	names, err := d.NameList()
	require.NoError(t, err)
	require.Nil(t, names)
}

func TestDecoderTruncated(t *testing.T) {
	d := newDecoder([]byte{0, 0, 0, 5, 'h', 'i'})
	_, err := d.String()
	require.Error(t, err)
}

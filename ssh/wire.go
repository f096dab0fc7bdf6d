package ssh

import (
	"math/big"

	"github.com/pkg/errors"
)

// encoder builds an SSH binary-packet payload: u32 length-prefixed strings,
// comma-joined name-lists, and two's-complement mpints, per RFC 4253 §5.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 64)}
}

func (e *encoder) Bytes() []byte { return e.buf }

func (e *encoder) PutU8(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) PutBool(b bool) {
	if b {
		e.PutU8(1)
	} else {
		e.PutU8(0)
	}
}

func (e *encoder) PutU32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *encoder) PutU64(v uint64) {
	e.PutU32(uint32(v >> 32))
	e.PutU32(uint32(v))
}

func (e *encoder) PutRaw(b []byte) { e.buf = append(e.buf, b...) }

// PutString writes a u32-length-prefixed byte string.
func (e *encoder) PutString(b []byte) {
	e.PutU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) PutStringS(s string) { e.PutString([]byte(s)) }

// PutNameList writes a comma-joined, length-prefixed ASCII name-list.
func (e *encoder) PutNameList(names []string) {
	joined := joinNames(names)
	e.PutStringS(joined)
}

// PutMpint writes a two's-complement big-endian integer with a leading
// zero byte inserted whenever the high bit of the first byte would
// otherwise be set, per RFC 4253 §5.
func (e *encoder) PutMpint(n *big.Int) {
	if n == nil || n.Sign() == 0 {
		e.PutU32(0)
		return
	}
	b := n.Bytes()
	if b[0]&0x80 != 0 {
		padded := make([]byte, len(b)+1)
		copy(padded[1:], b)
		b = padded
	}
	e.PutString(b)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// decoder reads fields out of a received packet payload in order, per the
// same wire grammar as encoder.
type decoder struct {
	buf []byte
	off int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

var errTruncated = errors.New("ssh: packet payload truncated")

func (d *decoder) need(n int) error {
	if len(d.buf)-d.off < n {
		return errTruncated
	}
	return nil
}

func (d *decoder) Skip(n int) error {
	if err := d.need(n); err != nil {
		return err
	}
	d.off += n
	return nil
}

func (d *decoder) U8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) Bool() (bool, error) {
	b, err := d.U8()
	return b != 0, err
}

func (d *decoder) U32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := uint32(d.buf[d.off])<<24 | uint32(d.buf[d.off+1])<<16 | uint32(d.buf[d.off+2])<<8 | uint32(d.buf[d.off+3])
	d.off += 4
	return v, nil
}

func (d *decoder) U64() (uint64, error) {
	hi, err := d.U32()
	if err != nil {
		return 0, err
	}
	lo, err := d.U32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (d *decoder) String() ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	s := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return s, nil
}

func (d *decoder) StringS() (string, error) {
	b, err := d.String()
	return string(b), err
}

func (d *decoder) NameList() ([]string, error) {
	s, err := d.StringS()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return splitNames(s), nil
}

func splitNames(s string) []string {
	var names []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			names = append(names, s[start:i])
			start = i + 1
		}
	}
	names = append(names, s[start:])
	return names
}

func (d *decoder) Mpint() (*big.Int, error) {
	b, err := d.String()
	if err != nil {
		return nil, err
	}
	n := new(big.Int)
	if len(b) > 0 && b[0]&0x80 != 0 {
		// Negative mpints never occur in the algorithms this core supports.
		return nil, errors.New("ssh: negative mpint not supported")
	}
	n.SetBytes(b)
	return n, nil
}

// Rest returns the remaining, not-yet-consumed bytes.
func (d *decoder) Rest() []byte { return d.buf[d.off:] }

func (d *decoder) done() bool { return d.off >= len(d.buf) }

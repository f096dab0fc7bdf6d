package ssh

// Message numbers, routed by the driver: 1-19 transport generic, 20-29
// negotiation, 30-49 kex-method specific, 50-79 authentication, 80-127
// connection.
const (
	msgDisconnect    = 1
	msgIgnore        = 2
	msgUnimplemented = 3
	msgDebug         = 4
	msgServiceReq    = 5
	msgServiceAccept = 6
	msgExtInfo       = 7 // RFC 8308

	msgKexInit = 20
	msgNewKeys = 21

	// curve25519-sha256 message numbers (RFC 8731 reuses the ECDH range).
	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	msgUserAuthRequest       = 50
	msgUserAuthFailure       = 51
	msgUserAuthSuccess       = 52
	msgUserAuthBanner        = 53
	msgUserAuthPasswdChReq   = 60
	msgGlobalRequest         = 80
	msgRequestSuccess        = 81
	msgRequestFailure        = 82
	msgChannelOpen           = 90
	msgChannelOpenConfirm    = 91
	msgChannelOpenFailure    = 92
	msgChannelWindowAdjust   = 93
	msgChannelData           = 94
	msgChannelExtendedData   = 95
	msgChannelEOF            = 96
	msgChannelClose          = 97
	msgChannelRequest        = 98
	msgChannelSuccess        = 99
	msgChannelFailure        = 100
)

// Disconnect reason codes (RFC 4253 §11.1), the subset this core names.
// The driver itself only sends DisconnectProtocolError; Client.Disconnect
// sends whichever reason its caller passes.
const (
	DisconnectProtocolError       uint32 = 2
	DisconnectMACError            uint32 = 5
	DisconnectKeyExchangeFailed   uint32 = 3
	DisconnectByApplication       uint32 = 11
)

// Channel open failure reason codes (RFC 4254 §5.1).
const (
	ChannelOpenAdministrativelyProhibited uint32 = 1
	ChannelOpenConnectFailed              uint32 = 2
	ChannelOpenUnknownChannelType         uint32 = 3
	ChannelOpenResourceShortage           uint32 = 4
)

type kexInitMsg struct {
	Cookie          [16]byte
	KexAlgos        []string
	ServerHostKeys  []string
	CiphersCTS      []string
	CiphersSTC      []string
	MACsCTS         []string
	MACsSTC         []string
	CompressionCTS  []string
	CompressionSTC  []string
	LanguagesCTS    []string
	LanguagesSTC    []string
	FirstKexFollows bool
}

func (m *kexInitMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgKexInit)
	e.PutRaw(m.Cookie[:])
	e.PutNameList(m.KexAlgos)
	e.PutNameList(m.ServerHostKeys)
	e.PutNameList(m.CiphersCTS)
	e.PutNameList(m.CiphersSTC)
	e.PutNameList(m.MACsCTS)
	e.PutNameList(m.MACsSTC)
	e.PutNameList(m.CompressionCTS)
	e.PutNameList(m.CompressionSTC)
	e.PutNameList(m.LanguagesCTS)
	e.PutNameList(m.LanguagesSTC)
	e.PutBool(m.FirstKexFollows)
	e.PutU32(0) // reserved
	return e.Bytes()
}

func parseKexInitMsg(payload []byte) (*kexInitMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil { // message number, already dispatched on
		return nil, err
	}
	m := &kexInitMsg{}
	cookie, err := sliceN(d, 16)
	if err != nil {
		return nil, err
	}
	copy(m.Cookie[:], cookie)
	if m.KexAlgos, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.ServerHostKeys, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.CiphersCTS, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.CiphersSTC, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.MACsCTS, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.MACsSTC, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.CompressionCTS, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.CompressionSTC, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.LanguagesCTS, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.LanguagesSTC, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.FirstKexFollows, err = d.Bool(); err != nil {
		return nil, err
	}
	return m, nil
}

func sliceN(d *decoder, n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

type kexECDHInitMsg struct {
	ClientPubkey []byte
}

func (m *kexECDHInitMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgKexECDHInit)
	e.PutString(m.ClientPubkey)
	return e.Bytes()
}

type kexECDHReplyMsg struct {
	HostKey      []byte
	ServerPubkey []byte
	Signature    []byte
}

func parseKexECDHReplyMsg(payload []byte) (*kexECDHReplyMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &kexECDHReplyMsg{}
	var err error
	if m.HostKey, err = d.String(); err != nil {
		return nil, err
	}
	if m.ServerPubkey, err = d.String(); err != nil {
		return nil, err
	}
	if m.Signature, err = d.String(); err != nil {
		return nil, err
	}
	return m, nil
}

type disconnectMsg struct {
	Reason      uint32
	Description string
}

func (m *disconnectMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgDisconnect)
	e.PutU32(m.Reason)
	e.PutStringS(m.Description)
	e.PutStringS("")
	return e.Bytes()
}

func parseDisconnectMsg(payload []byte) (*disconnectMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &disconnectMsg{}
	var err error
	if m.Reason, err = d.U32(); err != nil {
		return nil, err
	}
	if m.Description, err = d.StringS(); err != nil {
		return nil, err
	}
	return m, nil
}

type unimplementedMsg struct {
	PacketSeq uint32
}

func parseUnimplementedMsg(payload []byte) (*unimplementedMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &unimplementedMsg{}
	var err error
	if m.PacketSeq, err = d.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalServiceRequest(name string) []byte {
	e := newEncoder()
	e.PutU8(msgServiceReq)
	e.PutStringS(name)
	return e.Bytes()
}

func marshalNewKeys() []byte {
	return []byte{msgNewKeys}
}

func marshalExtInfo() []byte {
	e := newEncoder()
	e.PutU8(msgExtInfo)
	e.PutU32(0) // no extensions advertised
	return e.Bytes()
}

// marshalUserAuthRequestHeader returns an encoder holding only the
// USERAUTH_REQUEST header; the caller (auth.go) appends the method-specific
// payload, since its shape depends on the method name.
func marshalUserAuthRequestHeader(username, service, method string) *encoder {
	e := newEncoder()
	e.PutU8(msgUserAuthRequest)
	e.PutStringS(username)
	e.PutStringS(service)
	e.PutStringS(method)
	return e
}

type userAuthFailureMsg struct {
	MethodsCanContinue []string
	PartialSuccess     bool
}

func parseUserAuthFailureMsg(payload []byte) (*userAuthFailureMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &userAuthFailureMsg{}
	var err error
	if m.MethodsCanContinue, err = d.NameList(); err != nil {
		return nil, err
	}
	if m.PartialSuccess, err = d.Bool(); err != nil {
		return nil, err
	}
	return m, nil
}

type userAuthBannerMsg struct {
	Message string
}

func parseUserAuthBannerMsg(payload []byte) (*userAuthBannerMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &userAuthBannerMsg{}
	var err error
	if m.Message, err = d.StringS(); err != nil {
		return nil, err
	}
	return m, nil
}

type userAuthPasswdChangeReqMsg struct {
	Prompt string
}

func parseUserAuthPasswdChangeReqMsg(payload []byte) (*userAuthPasswdChangeReqMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &userAuthPasswdChangeReqMsg{}
	var err error
	if m.Prompt, err = d.StringS(); err != nil {
		return nil, err
	}
	return m, nil
}

type globalRequestMsg struct {
	Name      string
	WantReply bool
	Payload   []byte
}

func parseGlobalRequestMsg(payload []byte) (*globalRequestMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &globalRequestMsg{}
	var err error
	if m.Name, err = d.StringS(); err != nil {
		return nil, err
	}
	if m.WantReply, err = d.Bool(); err != nil {
		return nil, err
	}
	m.Payload = d.Rest()
	return m, nil
}

type channelOpenMsg struct {
	ChannelType   string
	SenderChannel uint32
	WindowSize    uint32
	MaxPacketSize uint32
	Payload       []byte
}

func (m *channelOpenMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelOpen)
	e.PutStringS(m.ChannelType)
	e.PutU32(m.SenderChannel)
	e.PutU32(m.WindowSize)
	e.PutU32(m.MaxPacketSize)
	e.PutRaw(m.Payload)
	return e.Bytes()
}

func parseChannelOpenMsg(payload []byte) (*channelOpenMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelOpenMsg{}
	var err error
	if m.ChannelType, err = d.StringS(); err != nil {
		return nil, err
	}
	if m.SenderChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.WindowSize, err = d.U32(); err != nil {
		return nil, err
	}
	if m.MaxPacketSize, err = d.U32(); err != nil {
		return nil, err
	}
	m.Payload = d.Rest()
	return m, nil
}

type channelOpenConfirmMsg struct {
	RecipientChannel uint32
	SenderChannel    uint32
	WindowSize       uint32
	MaxPacketSize    uint32
	Payload          []byte
}

func (m *channelOpenConfirmMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelOpenConfirm)
	e.PutU32(m.RecipientChannel)
	e.PutU32(m.SenderChannel)
	e.PutU32(m.WindowSize)
	e.PutU32(m.MaxPacketSize)
	e.PutRaw(m.Payload)
	return e.Bytes()
}

func parseChannelOpenConfirmMsg(payload []byte) (*channelOpenConfirmMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelOpenConfirmMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.SenderChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.WindowSize, err = d.U32(); err != nil {
		return nil, err
	}
	if m.MaxPacketSize, err = d.U32(); err != nil {
		return nil, err
	}
	m.Payload = d.Rest()
	return m, nil
}

type channelOpenFailureMsg struct {
	RecipientChannel uint32
	Reason           uint32
	Description      string
}

func parseChannelOpenFailureMsg(payload []byte) (*channelOpenFailureMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelOpenFailureMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.Reason, err = d.U32(); err != nil {
		return nil, err
	}
	if m.Description, err = d.StringS(); err != nil {
		return nil, err
	}
	return m, nil
}

type channelWindowAdjustMsg struct {
	RecipientChannel uint32
	BytesToAdd       uint32
}

func (m *channelWindowAdjustMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelWindowAdjust)
	e.PutU32(m.RecipientChannel)
	e.PutU32(m.BytesToAdd)
	return e.Bytes()
}

func parseChannelWindowAdjustMsg(payload []byte) (*channelWindowAdjustMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelWindowAdjustMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.BytesToAdd, err = d.U32(); err != nil {
		return nil, err
	}
	return m, nil
}

type channelDataMsg struct {
	RecipientChannel uint32
	Data             []byte
}

func (m *channelDataMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelData)
	e.PutU32(m.RecipientChannel)
	e.PutString(m.Data)
	return e.Bytes()
}

func parseChannelDataMsg(payload []byte) (*channelDataMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelDataMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.Data, err = d.String(); err != nil {
		return nil, err
	}
	return m, nil
}

type channelExtendedDataMsg struct {
	RecipientChannel uint32
	DataTypeCode     uint32
	Data             []byte
}

func (m *channelExtendedDataMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelExtendedData)
	e.PutU32(m.RecipientChannel)
	e.PutU32(m.DataTypeCode)
	e.PutString(m.Data)
	return e.Bytes()
}

func parseChannelExtendedDataMsg(payload []byte) (*channelExtendedDataMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelExtendedDataMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.DataTypeCode, err = d.U32(); err != nil {
		return nil, err
	}
	if m.Data, err = d.String(); err != nil {
		return nil, err
	}
	return m, nil
}

type channelEOFMsg struct{ RecipientChannel uint32 }
type channelCloseMsg struct{ RecipientChannel uint32 }

func marshalChannelEOF(recipient uint32) []byte {
	e := newEncoder()
	e.PutU8(msgChannelEOF)
	e.PutU32(recipient)
	return e.Bytes()
}

func marshalChannelClose(recipient uint32) []byte {
	e := newEncoder()
	e.PutU8(msgChannelClose)
	e.PutU32(recipient)
	return e.Bytes()
}

func parseRecipientOnly(payload []byte) (uint32, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return 0, err
	}
	return d.U32()
}

type channelRequestMsg struct {
	RecipientChannel uint32
	RequestType      string
	WantReply        bool
	Payload          []byte
}

func (m *channelRequestMsg) marshal() []byte {
	e := newEncoder()
	e.PutU8(msgChannelRequest)
	e.PutU32(m.RecipientChannel)
	e.PutStringS(m.RequestType)
	e.PutBool(m.WantReply)
	e.PutRaw(m.Payload)
	return e.Bytes()
}

func parseChannelRequestMsg(payload []byte) (*channelRequestMsg, error) {
	d := newDecoder(payload)
	if _, err := d.U8(); err != nil {
		return nil, err
	}
	m := &channelRequestMsg{}
	var err error
	if m.RecipientChannel, err = d.U32(); err != nil {
		return nil, err
	}
	if m.RequestType, err = d.StringS(); err != nil {
		return nil, err
	}
	if m.WantReply, err = d.Bool(); err != nil {
		return nil, err
	}
	m.Payload = d.Rest()
	return m, nil
}

// Package avs provides a client for the AVS daemon, the component that owns
// media ports, ICE/DTLS negotiation, SRTP keying, codec selection, channel
// run-control and announcement playback for a conference.
//
// The package acts as an adaptor between the conference manager and AVS: it
// exposes synchronous, request-per-call operations and translates each call
// into an asynchronous compact-JSON exchange over a unix datagram socket.
// Commands are strictly serial, at most one is outstanding to AVS at any
// instant.
//
// Main types and functions:
//   - Engine: Holds the datagram endpoint and its socket paths.
//   - Client: Serializes callers, sends commands, dispatches replies.
//   - GlobalParam, AllocPortParam, ...: Typed request records per command.
//   - CommonResponse, AllocPortNormalResponse, AllocPortIceResponse: Typed
//     response records.
//   - EncodeCommand: Encodes a request record into the wire JSON.
//   - DecodeResponse: Decodes a reply datagram for the command in flight.
//
// The package relies on external libraries for structured logging, UUID
// generation, JSON field extraction and mapstructure decoding.
package avs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrNotification marks a datagram carrying no "id" field. It is not a reply
// to the command in flight; it may be a notification from AVS.
var ErrNotification = errors.New("avs: datagram has no id")

// GlobalParam carries the STUN and TURN servers pushed to AVS.
type GlobalParam struct {
	StunAddr     string
	StunPort     uint
	TurnAddr     string
	TurnPort     uint
	TurnUsername string
	TurnPassword string
	CommID       string
}

// AllocPortParam asks AVS for a port resource on a (conference, channel).
// The same record serves the normal and the ICE variant; the command kind
// selects the mode.
type AllocPortParam struct {
	ConfID     string
	ChanID     string
	EnableDTLS bool
	CommID     string
}

// DeallocPortParam releases a port resource.
type DeallocPortParam struct {
	ConfID string
	ChanID string
	PortID string
	CommID string
}

// PeerPortNormalParam points a port resource at its peer without ICE.
type PeerPortNormalParam struct {
	ConfID      string
	ChanID      string
	PortID      string
	RtcpMux     bool
	SymRTP      bool
	SrtpMode    SrtpMode
	Qos         uint
	SrtpSendKey string
	SrtpRecvKey string
	TargetAddr  string // "ip:port"
	Fingerprint string
	CommID      string
}

// PeerPortIceParam points a port resource at its peer in ICE mode.
type PeerPortIceParam struct {
	ConfID      string
	ChanID      string
	PortID      string
	IceRole     IceRole
	SslRole     SslRole
	Fingerprint string
	IceUfrag    string
	IcePwd      string
	Candidate   string
	CommID      string
}

// AudioCodecParam configures the audio track of a port resource. TrackID
// defaults to ChanID when empty.
type AudioCodecParam struct {
	ConfID      string
	ChanID      string
	PortID      string
	TrackID     string
	Codec       AudioCodec
	PayloadType uint
	Ptime       uint
	TransMode   TransMode
	CommID      string
}

// VideoCodecParam configures the video track of a port resource. TrackID
// defaults to ChanID when empty.
type VideoCodecParam struct {
	ConfID      string
	ChanID      string
	PortID      string
	TrackID     string
	Codec       VideoCodec
	PayloadType uint
	TransMode   TransMode
	CommID      string
}

// RunCtrlParam applies a run-control operation to a channel.
type RunCtrlParam struct {
	ConfID    string
	ChanID    string
	Operation RunCtrlOp
	Media     MediaKind
	CommID    string
}

// PlaySoundParam plays an announcement on one or all channels.
type PlaySoundParam struct {
	ConfID    string
	ChanID    string
	Mode      PlayMode
	SoundFile string
	CommID    string
}

// CommonResponse is the general reply from AVS when no extra payload comes
// back. Code zero means success at the application layer.
type CommonResponse struct {
	Code    uint
	Message string
	CommID  string
}

// AllocPortNormalResponse is the reply to an addPort command without ICE.
type AllocPortNormalResponse struct {
	RtpPort     uint
	RtcpPort    uint
	Fingerprint string
	PortID      string
	CommID      string
	Common      CommonResponse
}

// AllocPortIceResponse is the reply to an addPort command in ICE mode. The
// candidate order on the wire is preserved.
type AllocPortIceResponse struct {
	IceUfrag    string
	IcePwd      string
	Fingerprint string
	PortID      string
	CommID      string
	Candidates  []string
	Common      CommonResponse
}

func wireBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func validateCommID(id string) error {
	if id == "" {
		return errors.New("avs: comm_id is empty")
	}
	if len(id) > MaxUniqueID {
		return fmt.Errorf("avs: comm_id %q exceeds %d bytes", id, MaxUniqueID)
	}
	return nil
}

func validateChannelIDs(confID, chanID string) error {
	if confID == "" || len(confID) > MaxConfIDLen {
		return fmt.Errorf("avs: bad conf_id %q", confID)
	}
	if chanID == "" || len(chanID) > MaxChanIDLen {
		return fmt.Errorf("avs: bad chan_id %q", chanID)
	}
	return nil
}

func validatePortID(portID string) error {
	if portID == "" || len(portID) > MaxPortIDLen {
		return fmt.Errorf("avs: bad port_id %q", portID)
	}
	return nil
}

func (p *GlobalParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if p.StunAddr == "" || len(p.StunAddr) > MaxIPAddrLen {
		return fmt.Errorf("avs: bad stun address %q", p.StunAddr)
	}
	if p.TurnAddr == "" || len(p.TurnAddr) > MaxIPAddrLen {
		return fmt.Errorf("avs: bad turn address %q", p.TurnAddr)
	}
	if p.StunPort > 65535 || p.TurnPort > 65535 {
		return errors.New("avs: server port out of range")
	}
	if len(p.TurnUsername) > MaxTurnUsernameLen {
		return errors.New("avs: turn username too long")
	}
	if len(p.TurnPassword) > MaxTurnPasswordLen {
		return errors.New("avs: turn password too long")
	}
	return nil
}

func (p *GlobalParam) wire() *wireSetParam {
	return &wireSetParam{
		StunServer: []wireStunServer{{
			Address: p.StunAddr,
			Port:    strconv.FormatUint(uint64(p.StunPort), 10),
		}},
		TurnServer: []wireTurnServer{{
			Address:  p.TurnAddr,
			Port:     strconv.FormatUint(uint64(p.TurnPort), 10),
			Username: p.TurnUsername,
			Password: p.TurnPassword,
		}},
	}
}

func (p *AllocPortParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	return validateChannelIDs(p.ConfID, p.ChanID)
}

func (p *AllocPortParam) wire(ice bool) *wireAddPort {
	return &wireAddPort{
		ConfID: p.ConfID,
		ChanID: p.ChanID,
		ICE:    wireBool(ice),
		DTLS:   wireBool(p.EnableDTLS),
	}
}

func (p *DeallocPortParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	return validatePortID(p.PortID)
}

func (p *PeerPortNormalParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	if err := validatePortID(p.PortID); err != nil {
		return err
	}
	if p.SrtpMode < SRTP_AES256_CM_SHA1_80 || p.SrtpMode > SRTP_AES128_CM_SHA1_32 {
		return fmt.Errorf("avs: srtp mode %d out of range", p.SrtpMode)
	}
	if p.Qos > 255 {
		return fmt.Errorf("avs: qos %d out of range", p.Qos)
	}
	if len(p.SrtpSendKey) > MaxSrtpKeyLen || len(p.SrtpRecvKey) > MaxSrtpKeyLen {
		return errors.New("avs: srtp key too long")
	}
	if len(p.TargetAddr) > MaxIPPortAddrLen {
		return fmt.Errorf("avs: target address %q too long", p.TargetAddr)
	}
	if _, _, err := net.SplitHostPort(p.TargetAddr); err != nil {
		return fmt.Errorf("avs: target address %q: %w", p.TargetAddr, err)
	}
	if len(p.Fingerprint) > MaxFingerprintLen {
		return errors.New("avs: fingerprint too long")
	}
	return nil
}

func (p *PeerPortNormalParam) wire() *wireSetPortParam {
	return &wireSetPortParam{
		ConfID: p.ConfID,
		ChanID: p.ChanID,
		PortID: p.PortID,
		InfoPort: &wireInfoPort{
			TargetAddr:  p.TargetAddr,
			RtcpMux:     wireBool(p.RtcpMux),
			SymRTP:      wireBool(p.SymRTP),
			Qos:         strconv.FormatUint(uint64(p.Qos), 10),
			SrtpMode:    strconv.Itoa(int(p.SrtpMode)),
			SrtpSendKey: p.SrtpSendKey,
			SrtpRecvKey: p.SrtpRecvKey,
			Fingerprint: p.Fingerprint,
		},
	}
}

func (r IceRole) wire() (string, error) {
	switch r {
	case ICE_CONTROLLING:
		return "0", nil
	case ICE_CONTROLLED:
		return "1", nil
	}
	return "", fmt.Errorf("avs: unknown ice role %q", string(r))
}

func (r SslRole) wire() (string, error) {
	switch r {
	case SSL_CLIENT:
		return "0", nil
	case SSL_SERVER:
		return "1", nil
	}
	return "", fmt.Errorf("avs: unknown ssl role %q", string(r))
}

func (p *PeerPortIceParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	if err := validatePortID(p.PortID); err != nil {
		return err
	}
	if _, err := p.IceRole.wire(); err != nil {
		return err
	}
	if _, err := p.SslRole.wire(); err != nil {
		return err
	}
	if len(p.Fingerprint) > MaxFingerprintLen {
		return errors.New("avs: fingerprint too long")
	}
	if len(p.IceUfrag) > MaxIceUfrag {
		return errors.New("avs: ice_ufrag too long")
	}
	if len(p.IcePwd) > MaxIcePwd {
		return errors.New("avs: ice_pwd too long")
	}
	return nil
}

func (p *PeerPortIceParam) wire() *wireSetPortParam {
	iceRole, _ := p.IceRole.wire()
	sslRole, _ := p.SslRole.wire()
	return &wireSetPortParam{
		ConfID: p.ConfID,
		ChanID: p.ChanID,
		PortID: p.PortID,
		InfoICE: &wireInfoICE{
			IceRole:     iceRole,
			SslRole:     sslRole,
			Fingerprint: p.Fingerprint,
			IceUfrag:    p.IceUfrag,
			IcePwd:      p.IcePwd,
			Candidate:   p.Candidate,
		},
	}
}

func (m TransMode) valid() bool {
	switch m {
	case TRANS_SENDRECV, TRANS_SENDONLY, TRANS_RECVONLY:
		return true
	}
	return false
}

func (c AudioCodec) valid() bool {
	switch c {
	case AUDIO_PCMU, AUDIO_PCMA, AUDIO_GSM, AUDIO_ILBC, AUDIO_G722,
		AUDIO_G722_1, AUDIO_G722_1C, AUDIO_G729, AUDIO_G723_1,
		AUDIO_G726, AUDIO_OPUS:
		return true
	}
	return false
}

func (c VideoCodec) valid() bool {
	switch c {
	case VIDEO_H264, VIDEO_H265, VIDEO_VP8, VIDEO_VP9:
		return true
	}
	return false
}

func (p *AudioCodecParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	if err := validatePortID(p.PortID); err != nil {
		return err
	}
	if !p.Codec.valid() {
		return fmt.Errorf("avs: unknown audio codec %q", string(p.Codec))
	}
	if p.PayloadType > MaxPayloadType {
		return fmt.Errorf("avs: payload type %d out of range", p.PayloadType)
	}
	if !p.TransMode.valid() {
		return fmt.Errorf("avs: unknown transmode %q", string(p.TransMode))
	}
	return nil
}

func (p *AudioCodecParam) wire() *wireAddTrack {
	trackID := p.TrackID
	if trackID == "" {
		trackID = p.ChanID
	}
	payload := strconv.FormatUint(uint64(p.PayloadType), 10)
	return &wireAddTrack{
		ConfID:    p.ConfID,
		ChanID:    p.ChanID,
		PortID:    p.PortID,
		TrackID:   trackID,
		MediaType: "audio",
		AudioTxParam: &wireAudioTxParam{
			MainCoder:   string(p.Codec),
			PayloadType: payload,
			Ptime:       strconv.FormatUint(uint64(p.Ptime), 10),
		},
		AudioRxParam: &wireAudioRxParam{
			Codecs:      string(p.Codec),
			PayloadType: payload,
		},
		AudioTransport: &wireAudioTransport{
			AudioTransport: string(p.TransMode),
		},
	}
}

func (p *VideoCodecParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	if err := validatePortID(p.PortID); err != nil {
		return err
	}
	if !p.Codec.valid() {
		return fmt.Errorf("avs: unknown video codec %q", string(p.Codec))
	}
	if p.PayloadType > MaxPayloadType {
		return fmt.Errorf("avs: payload type %d out of range", p.PayloadType)
	}
	if !p.TransMode.valid() {
		return fmt.Errorf("avs: unknown transmode %q", string(p.TransMode))
	}
	return nil
}

func (p *VideoCodecParam) wire() *wireAddTrack {
	trackID := p.TrackID
	if trackID == "" {
		trackID = p.ChanID
	}
	payload := strconv.FormatUint(uint64(p.PayloadType), 10)
	return &wireAddTrack{
		ConfID:    p.ConfID,
		ChanID:    p.ChanID,
		PortID:    p.PortID,
		TrackID:   trackID,
		MediaType: "video",
		VideoTxParam: &wireVideoTxParam{
			MainCoder:   string(p.Codec),
			PayloadType: payload,
		},
		VideoRxParam: &wireVideoRxParam{
			Codecs:      string(p.Codec),
			PayloadType: payload,
		},
		VideoTransport: &wireVideoTransport{
			VideoTransport: string(p.TransMode),
		},
	}
}

func (p *RunCtrlParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	switch p.Operation {
	case RUNCTRL_START, RUNCTRL_RESET, RUNCTRL_SUSPEND, RUNCTRL_RESUME:
	default:
		return fmt.Errorf("avs: unknown runctrl operation %q", string(p.Operation))
	}
	switch p.Media {
	case MEDIA_AUDIO, MEDIA_VIDEO, MEDIA_ALL:
	default:
		return fmt.Errorf("avs: unknown media kind %q", string(p.Media))
	}
	return nil
}

func (p *PlaySoundParam) validate() error {
	if err := validateCommID(p.CommID); err != nil {
		return err
	}
	if err := validateChannelIDs(p.ConfID, p.ChanID); err != nil {
		return err
	}
	switch p.Mode {
	case PLAY_SINGLE, PLAY_ALL_EXCEPT:
	default:
		return fmt.Errorf("avs: unknown play mode %q", string(p.Mode))
	}
	if p.SoundFile == "" || len(p.SoundFile) > MaxSoundFileLen {
		return fmt.Errorf("avs: bad soundfile %q", p.SoundFile)
	}
	return nil
}

// EncodeCommand serializes a request record into the wire JSON for the given
// command kind. No wire traffic happens on error.
func EncodeCommand(kind CmdType, param any) ([]byte, error) {
	env := &wireEnvelope{}

	switch kind {
	case CmdSetGlobalParam:
		p, ok := param.(*GlobalParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.SetParam = p.wire()
		env.ID = p.CommID

	case CmdAllocPortNormal, CmdAllocPortIce:
		p, ok := param.(*AllocPortParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.AddPort = p.wire(kind == CmdAllocPortIce)
		env.ID = p.CommID

	case CmdDeallocPort:
		p, ok := param.(*DeallocPortParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.DelPort = &wireDelPort{ConfID: p.ConfID, ChanID: p.ChanID, PortID: p.PortID}
		env.ID = p.CommID

	case CmdSetPeerPortNormal:
		p, ok := param.(*PeerPortNormalParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.SetPortParam = p.wire()
		env.ID = p.CommID

	case CmdSetPeerPortIce:
		p, ok := param.(*PeerPortIceParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.SetPortParam = p.wire()
		env.ID = p.CommID

	case CmdSetAudioCodec:
		p, ok := param.(*AudioCodecParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.AddTrack = p.wire()
		env.ID = p.CommID

	case CmdSetVideoCodec:
		p, ok := param.(*VideoCodecParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.AddTrack = p.wire()
		env.ID = p.CommID

	case CmdRunCtrlChan:
		p, ok := param.(*RunCtrlParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.RunCtrl = &wireRunCtrl{
			ConfID:    p.ConfID,
			ChanID:    p.ChanID,
			Operation: string(p.Operation),
			Media:     string(p.Media),
		}
		env.ID = p.CommID

	case CmdPlaySound:
		p, ok := param.(*PlaySoundParam)
		if !ok {
			return nil, badParam(kind, param)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		env.PlaySound = &wirePlaySound{
			ConfID:    p.ConfID,
			ChanID:    p.ChanID,
			PlayMode:  string(p.Mode),
			SoundFile: p.SoundFile,
		}
		env.ID = p.CommID

	default:
		return nil, fmt.Errorf("avs: cannot encode command kind %d", kind)
	}

	return json.Marshal(env)
}

func badParam(kind CmdType, param any) error {
	return fmt.Errorf("avs: wrong parameter type %T for %s", param, kind.Key())
}

// DecodeResponse decodes a reply datagram for the command kind in flight.
// Datagrams without an "id" yield ErrNotification; any type mismatch in a
// required field fails the decode.
func DecodeResponse(kind CmdType, data []byte) (any, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("avs: reply is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("avs: reply is not a JSON object")
	}

	id := root.Get("id")
	if !id.Exists() {
		return nil, ErrNotification
	}
	if id.Type != gjson.String {
		return nil, errors.New("avs: id is not a string")
	}

	switch kind {
	case CmdAllocPortNormal:
		return decodeAllocPortNormal(root, id.Str)
	case CmdAllocPortIce:
		return decodeAllocPortIce(root, id.Str)
	case CmdIdle:
		return nil, errors.New("avs: no command in flight")
	default:
		return decodeCommon(root, id.Str)
	}
}

func decodeCommon(root gjson.Result, id string) (*CommonResponse, error) {
	errObj := root.Get("error")
	if !errObj.Exists() {
		return nil, errors.New("avs: reply has no error object")
	}
	if !errObj.IsObject() {
		return nil, errors.New("avs: error is not an object")
	}

	code := errObj.Get("code")
	if !code.Exists() || code.Type != gjson.Number || code.Num != math.Trunc(code.Num) {
		return nil, errors.New("avs: error.code is not an integer")
	}

	resp := &CommonResponse{
		Code:   uint(int64(code.Num)),
		CommID: id,
	}
	if msg := errObj.Get("message"); msg.Exists() && msg.Type == gjson.String {
		resp.Message = msg.Str
	}
	return resp, nil
}

func wirePortNumber(res gjson.Result) (uint, error) {
	if res.Type != gjson.String {
		return 0, errors.New("avs: port is not a string")
	}
	n, err := strconv.Atoi(res.Str)
	if err != nil || n < 0 || n > 65535 {
		return 0, fmt.Errorf("avs: bad wire port %q", res.Str)
	}
	return uint(n), nil
}

func optionalString(res gjson.Result, name string) (string, error) {
	if !res.Exists() {
		return "", nil
	}
	if res.Type != gjson.String {
		return "", fmt.Errorf("avs: %s is not a string", name)
	}
	return res.Str, nil
}

func decodeAllocPortNormal(root gjson.Result, id string) (*AllocPortNormalResponse, error) {
	common, err := decodeCommon(root, id)
	if err != nil {
		return nil, err
	}
	resp := &AllocPortNormalResponse{CommID: id, Common: *common}

	if resp.PortID, err = optionalString(root.Get("port_id"), "port_id"); err != nil {
		return nil, err
	}

	info := root.Get("InfoPort")
	if !info.Exists() {
		return nil, errors.New("avs: reply has no InfoPort object")
	}
	if !info.IsObject() {
		return nil, errors.New("avs: InfoPort is not an object")
	}

	if rtp := info.Get("rtp_port"); rtp.Exists() {
		if resp.RtpPort, err = wirePortNumber(rtp); err != nil {
			return nil, err
		}
	}
	if rtcp := info.Get("rtcp_port"); rtcp.Exists() {
		if resp.RtcpPort, err = wirePortNumber(rtcp); err != nil {
			return nil, err
		}
	}
	if resp.Fingerprint, err = optionalString(info.Get("fingerprint"), "fingerprint"); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeAllocPortIce(root gjson.Result, id string) (*AllocPortIceResponse, error) {
	common, err := decodeCommon(root, id)
	if err != nil {
		return nil, err
	}
	resp := &AllocPortIceResponse{CommID: id, Common: *common}

	if resp.PortID, err = optionalString(root.Get("port_id"), "port_id"); err != nil {
		return nil, err
	}

	info := root.Get("InfoICE")
	if !info.Exists() {
		return nil, errors.New("avs: reply has no InfoICE object")
	}
	if !info.IsObject() {
		return nil, errors.New("avs: InfoICE is not an object")
	}

	if resp.IceUfrag, err = optionalString(info.Get("ice_ufrag"), "ice_ufrag"); err != nil {
		return nil, err
	}
	if resp.IcePwd, err = optionalString(info.Get("ice_pwd"), "ice_pwd"); err != nil {
		return nil, err
	}
	if resp.Fingerprint, err = optionalString(info.Get("fingerprint"), "fingerprint"); err != nil {
		return nil, err
	}

	if cand := info.Get("candidate"); cand.Exists() {
		if !cand.IsArray() {
			return nil, errors.New("avs: candidate is not an array")
		}
		for _, el := range cand.Array() {
			if el.Type != gjson.String {
				return nil, errors.New("avs: candidate entry is not a string")
			}
			resp.Candidates = append(resp.Candidates, el.Str)
		}
	}
	return resp, nil
}

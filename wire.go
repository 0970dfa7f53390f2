package avs

// Wire shapes of the AVS command protocol. Every integer-semantics field
// travels as a JSON string; the daemon does not accept bare numbers.

// wireEnvelope is the single top-level request object: one command key plus
// the correlation id.
type wireEnvelope struct {
	SetParam     *wireSetParam     `json:"setParam,omitempty"`
	AddPort      *wireAddPort      `json:"addPort,omitempty"`
	DelPort      *wireDelPort      `json:"delPort,omitempty"`
	SetPortParam *wireSetPortParam `json:"setPortParam,omitempty"`
	AddTrack     *wireAddTrack     `json:"addTrack,omitempty"`
	RunCtrl      *wireRunCtrl      `json:"runCtrl,omitempty"`
	PlaySound    *wirePlaySound    `json:"playSound,omitempty"`
	ID           string            `json:"id"`
}

type wireStunServer struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

type wireTurnServer struct {
	Address  string `json:"address"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type wireSetParam struct {
	StunServer []wireStunServer `json:"stunserver"`
	TurnServer []wireTurnServer `json:"turnserver"`
}

type wireAddPort struct {
	ConfID string `json:"conf_id"`
	ChanID string `json:"chan_id"`
	ICE    string `json:"ICE"`
	DTLS   string `json:"DTLS"`
}

type wireDelPort struct {
	ConfID string `json:"conf_id"`
	ChanID string `json:"chan_id"`
	PortID string `json:"port_id"`
}

type wireInfoPort struct {
	TargetAddr  string `json:"targetAddr"`
	RtcpMux     string `json:"RtcpMux"`
	SymRTP      string `json:"SymRTP"`
	Qos         string `json:"Qos"`
	SrtpMode    string `json:"srtpMode"`
	SrtpSendKey string `json:"srtpSendKey"`
	SrtpRecvKey string `json:"srtpRecvKey"`
	Fingerprint string `json:"fingerprint"`
}

type wireInfoICE struct {
	IceRole     string `json:"IceRole"`
	SslRole     string `json:"SslRole"`
	Fingerprint string `json:"fingerprint"`
	IceUfrag    string `json:"ice_ufrag"`
	IcePwd      string `json:"ice_pwd"`
	Candidate   string `json:"candidate"`
}

type wireSetPortParam struct {
	ConfID   string        `json:"conf_id"`
	ChanID   string        `json:"chan_id"`
	PortID   string        `json:"port_id"`
	InfoPort *wireInfoPort `json:"InfoPort,omitempty"`
	InfoICE  *wireInfoICE  `json:"InfoICE,omitempty"`
}

type wireAudioTxParam struct {
	MainCoder   string `json:"MainCoder"`
	PayloadType string `json:"PayloadType"`
	Ptime       string `json:"Ptime"`
}

type wireAudioRxParam struct {
	Codecs      string `json:"Codecs"`
	PayloadType string `json:"PayloadType"`
}

type wireAudioTransport struct {
	AudioTransport string `json:"audio_transport"`
}

type wireVideoTxParam struct {
	MainCoder   string `json:"MainCoder"`
	PayloadType string `json:"PayloadType"`
}

type wireVideoRxParam struct {
	Codecs      string `json:"Codecs"`
	PayloadType string `json:"PayloadType"`
}

type wireVideoTransport struct {
	VideoTransport string `json:"video_transport"`
}

type wireAddTrack struct {
	ConfID         string              `json:"conf_id"`
	ChanID         string              `json:"chan_id"`
	PortID         string              `json:"port_id"`
	TrackID        string              `json:"track_id"`
	MediaType      string              `json:"mediaType"`
	AudioTxParam   *wireAudioTxParam   `json:"audio_tx_param,omitempty"`
	AudioRxParam   *wireAudioRxParam   `json:"audio_rx_param,omitempty"`
	AudioTransport *wireAudioTransport `json:"audio_transport,omitempty"`
	VideoTxParam   *wireVideoTxParam   `json:"video_tx_param,omitempty"`
	VideoRxParam   *wireVideoRxParam   `json:"video_rx_param,omitempty"`
	VideoTransport *wireVideoTransport `json:"video_transport,omitempty"`
}

type wireRunCtrl struct {
	ConfID    string `json:"conf_id"`
	ChanID    string `json:"chan_id"`
	Operation string `json:"operation"`
	Media     string `json:"media"`
}

type wirePlaySound struct {
	ConfID    string `json:"conf_id"`
	ChanID    string `json:"chan_id"`
	PlayMode  string `json:"play_mode"`
	SoundFile string `json:"soundfile"`
}

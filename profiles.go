package avs

// Canned parameter profiles for the common conference setups. Each profile
// returns a record the caller can still adjust before sending.

// ProfileAudioPCMU returns an audio track on PCMU, payload 0, 20ms frames,
// both directions.
func ProfileAudioPCMU(confID, chanID, portID string) *AudioCodecParam {
	return &AudioCodecParam{
		ConfID:      confID,
		ChanID:      chanID,
		PortID:      portID,
		Codec:       AUDIO_PCMU,
		PayloadType: 0,
		Ptime:       20,
		TransMode:   TRANS_SENDRECV,
		CommID:      NewCommID(),
	}
}

// ProfileAudioOpus returns an audio track on Opus, payload 111, 20ms frames,
// both directions.
func ProfileAudioOpus(confID, chanID, portID string) *AudioCodecParam {
	return &AudioCodecParam{
		ConfID:      confID,
		ChanID:      chanID,
		PortID:      portID,
		Codec:       AUDIO_OPUS,
		PayloadType: 111,
		Ptime:       20,
		TransMode:   TRANS_SENDRECV,
		CommID:      NewCommID(),
	}
}

// ProfileVideoH264 returns a video track on H264, payload 96, both
// directions.
func ProfileVideoH264(confID, chanID, portID string) *VideoCodecParam {
	return &VideoCodecParam{
		ConfID:      confID,
		ChanID:      chanID,
		PortID:      portID,
		Codec:       VIDEO_H264,
		PayloadType: 96,
		TransMode:   TRANS_SENDRECV,
		CommID:      NewCommID(),
	}
}

// ProfilePeerPortSrtp returns a non-ICE peer port with rtcp-mux and
// symmetric RTP on, AES128_CM_SHA1_80 keying and default QoS.
func ProfilePeerPortSrtp(confID, chanID, portID, targetAddr, sendKey, recvKey string) *PeerPortNormalParam {
	return &PeerPortNormalParam{
		ConfID:      confID,
		ChanID:      chanID,
		PortID:      portID,
		RtcpMux:     true,
		SymRTP:      true,
		SrtpMode:    SRTP_AES128_CM_SHA1_80,
		Qos:         0,
		SrtpSendKey: sendKey,
		SrtpRecvKey: recvKey,
		TargetAddr:  targetAddr,
		CommID:      NewCommID(),
	}
}

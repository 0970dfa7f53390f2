package avs

// The caller-facing command operations. Each one fills the wire request from
// its typed record, runs it through the dispatcher and hands back the typed
// response. Delivery problems surface in the CmdResult; the application
// outcome is the Code/Message pair inside the response.

// SetGlobalParam pushes the STUN and TURN server settings to AVS.
func (c *Client) SetGlobalParam(param *GlobalParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdSetGlobalParam, param.CommID, param)
}

// AllocPortNormal asks AVS for a port resource without ICE. The reply
// carries the RTP/RTCP ports, the port id and the DTLS fingerprint.
func (c *Client) AllocPortNormal(param *AllocPortParam) (*AllocPortNormalResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	resp, result := c.invoke(CmdAllocPortNormal, param.CommID, param)
	if result != ResultSuccess {
		return nil, result
	}
	r, ok := resp.(*AllocPortNormalResponse)
	if !ok {
		return nil, ResultError
	}
	return r, ResultSuccess
}

// AllocPortIce asks AVS for a port resource in ICE mode. The reply carries
// the ICE credentials, the fingerprint, the port id and the candidate list
// in wire order.
func (c *Client) AllocPortIce(param *AllocPortParam) (*AllocPortIceResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	resp, result := c.invoke(CmdAllocPortIce, param.CommID, param)
	if result != ResultSuccess {
		return nil, result
	}
	r, ok := resp.(*AllocPortIceResponse)
	if !ok {
		return nil, ResultError
	}
	return r, ResultSuccess
}

// DeallocPort releases a port resource.
func (c *Client) DeallocPort(param *DeallocPortParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdDeallocPort, param.CommID, param)
}

// SetPeerPortNormal points a port resource at its peer without ICE.
func (c *Client) SetPeerPortNormal(param *PeerPortNormalParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdSetPeerPortNormal, param.CommID, param)
}

// SetPeerPortIce points a port resource at its peer in ICE mode.
func (c *Client) SetPeerPortIce(param *PeerPortIceParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdSetPeerPortIce, param.CommID, param)
}

// SetAudioCodec configures the audio track of a port resource.
func (c *Client) SetAudioCodec(param *AudioCodecParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdSetAudioCodec, param.CommID, param)
}

// SetVideoCodec configures the video track of a port resource.
func (c *Client) SetVideoCodec(param *VideoCodecParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdSetVideoCodec, param.CommID, param)
}

// RunCtrlChan applies a run-control operation to a channel.
func (c *Client) RunCtrlChan(param *RunCtrlParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdRunCtrlChan, param.CommID, param)
}

// PlaySound plays an announcement on one channel or on all channels of the
// conference except one.
func (c *Client) PlaySound(param *PlaySoundParam) (*CommonResponse, CmdResult) {
	if param == nil {
		return nil, ResultError
	}
	return c.commonCall(CmdPlaySound, param.CommID, param)
}

func (c *Client) commonCall(kind CmdType, commID string, param any) (*CommonResponse, CmdResult) {
	resp, result := c.invoke(kind, commID, param)
	if result != ResultSuccess {
		return nil, result
	}
	r, ok := resp.(*CommonResponse)
	if !ok {
		return nil, ResultError
	}
	return r, ResultSuccess
}

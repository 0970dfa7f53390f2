package avs

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeAVS plays the daemon's role on a real unixgram socket.
type fakeAVS struct {
	t    *testing.T
	conn *net.UnixConn
}

func newFakeAVS(t *testing.T, path string) *fakeAVS {
	t.Helper()
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeAVS{t: t, conn: conn}
}

func (f *fakeAVS) recv(timeout time.Duration) ([]byte, *net.UnixAddr) {
	f.t.Helper()
	buf := make([]byte, RecvBufferSize)
	f.conn.SetReadDeadline(time.Now().Add(timeout))
	n, addr, err := f.conn.ReadFromUnix(buf)
	require.NoError(f.t, err)
	return buf[:n], addr
}

// expectQuiet asserts that no datagram arrives within d.
func (f *fakeAVS) expectQuiet(d time.Duration) {
	f.t.Helper()
	buf := make([]byte, RecvBufferSize)
	f.conn.SetReadDeadline(time.Now().Add(d))
	_, _, err := f.conn.ReadFromUnix(buf)
	require.Error(f.t, err)
	var ne net.Error
	require.True(f.t, errors.As(err, &ne) && ne.Timeout())
}

func (f *fakeAVS) send(addr *net.UnixAddr, msg string) {
	f.t.Helper()
	_, err := f.conn.WriteToUnix([]byte(msg), addr)
	require.NoError(f.t, err)
}

func newTestClient(t *testing.T, options ...ClientOption) (*Client, *fakeAVS) {
	t.Helper()
	dir := t.TempDir()
	fake := newFakeAVS(t, filepath.Join(dir, "srv.sock"))

	opts := []ClientOption{
		WithServerPath(filepath.Join(dir, "srv.sock")),
		WithClientPath(filepath.Join(dir, "cli.sock")),
		WithTimeout(500 * time.Millisecond),
	}
	opts = append(opts, options...)

	c, err := NewClient(NewEngine(), opts...)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Shutdown)
	return c, fake
}

type commonCall struct {
	resp   *CommonResponse
	result CmdResult
}

func TestSetGlobalParamSuccess(t *testing.T) {
	c, fake := newTestClient(t)

	done := make(chan commonCall, 1)
	go func() {
		resp, result := c.SetGlobalParam(&GlobalParam{
			StunAddr:     "192.168.3.3",
			StunPort:     5333,
			TurnAddr:     "192.168.5.5",
			TurnPort:     6333,
			TurnUsername: "zhoulei",
			TurnPassword: "123456789",
			CommID:       "1111111111",
		})
		done <- commonCall{resp, result}
	}()

	msg, addr := fake.recv(time.Second)
	require.Equal(t, "1111111111", gjson.GetBytes(msg, "id").String())
	require.Equal(t, "192.168.3.3", gjson.GetBytes(msg, "setParam.stunserver.0.address").String())
	fake.send(addr, `{"id":"1111111111","error":{"code":0,"message":"ok"}}`)

	r := <-done
	require.Equal(t, ResultSuccess, r.result)
	require.Equal(t, uint(0), r.resp.Code)
	require.Equal(t, "ok", r.resp.Message)
	require.Equal(t, "1111111111", r.resp.CommID)
}

func TestAllocPortNormalSuccess(t *testing.T) {
	c, fake := newTestClient(t)

	type result struct {
		resp   *AllocPortNormalResponse
		result CmdResult
	}
	done := make(chan result, 1)
	go func() {
		resp, res := c.AllocPortNormal(&AllocPortParam{
			ConfID: "85883",
			ChanID: "00001",
			CommID: "2222222222",
		})
		done <- result{resp, res}
	}()

	msg, addr := fake.recv(time.Second)
	require.Equal(t, "0", gjson.GetBytes(msg, "addPort.ICE").String())
	require.Equal(t, "0", gjson.GetBytes(msg, "addPort.DTLS").String())
	fake.send(addr, `{"id":"2222222222","port_id":"P7","InfoPort":{"rtp_port":"40000","rtcp_port":"40001","fingerprint":"sha-256 AA:BB"},"error":{"code":0,"message":"ok"}}`)

	r := <-done
	require.Equal(t, ResultSuccess, r.result)
	require.Equal(t, uint(40000), r.resp.RtpPort)
	require.Equal(t, uint(40001), r.resp.RtcpPort)
	require.Equal(t, "P7", r.resp.PortID)
	require.Equal(t, "sha-256 AA:BB", r.resp.Fingerprint)
}

func TestAllocPortIceCandidateOrder(t *testing.T) {
	c, fake := newTestClient(t)

	type result struct {
		resp   *AllocPortIceResponse
		result CmdResult
	}
	done := make(chan result, 1)
	go func() {
		resp, res := c.AllocPortIce(&AllocPortParam{
			ConfID:     "85883",
			ChanID:     "00001",
			EnableDTLS: true,
			CommID:     "3333333333",
		})
		done <- result{resp, res}
	}()

	msg, addr := fake.recv(time.Second)
	require.Equal(t, "1", gjson.GetBytes(msg, "addPort.ICE").String())
	fake.send(addr, `{"id":"3333333333","port_id":"P9","InfoICE":{"ice_ufrag":"8hhY","ice_pwd":"pwd","fingerprint":"fp","candidate":["candidate:1 a","candidate:2 b"]},"error":{"code":0,"message":"ok"}}`)

	r := <-done
	require.Equal(t, ResultSuccess, r.result)
	require.Equal(t, []string{"candidate:1 a", "candidate:2 b"}, r.resp.Candidates)
	require.Equal(t, "8hhY", r.resp.IceUfrag)
}

// Every remaining operation travels through the dispatcher and gets its
// reply by comm id.
func TestCommonReplyOperations(t *testing.T) {
	c, fake := newTestClient(t)

	cases := []struct {
		name string
		key  string
		call func(id string) (*CommonResponse, CmdResult)
	}{
		{"dealloc port", "delPort", func(id string) (*CommonResponse, CmdResult) {
			return c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: id})
		}},
		{"peer port normal", "setPortParam", func(id string) (*CommonResponse, CmdResult) {
			return c.SetPeerPortNormal(&PeerPortNormalParam{
				ConfID: "1", ChanID: "2", PortID: "P7",
				SrtpMode: SRTP_AES128_CM_SHA1_80, TargetAddr: "10.0.0.1:9000", CommID: id,
			})
		}},
		{"peer port ice", "setPortParam", func(id string) (*CommonResponse, CmdResult) {
			return c.SetPeerPortIce(&PeerPortIceParam{
				ConfID: "1", ChanID: "2", PortID: "P7",
				IceRole: ICE_CONTROLLED, SslRole: SSL_CLIENT, CommID: id,
			})
		}},
		{"audio codec", "addTrack", func(id string) (*CommonResponse, CmdResult) {
			return c.SetAudioCodec(&AudioCodecParam{
				ConfID: "1", ChanID: "2", PortID: "P7",
				Codec: AUDIO_OPUS, PayloadType: 111, Ptime: 20, TransMode: TRANS_SENDRECV, CommID: id,
			})
		}},
		{"video codec", "addTrack", func(id string) (*CommonResponse, CmdResult) {
			return c.SetVideoCodec(&VideoCodecParam{
				ConfID: "1", ChanID: "2", PortID: "P7",
				Codec: VIDEO_VP8, PayloadType: 97, TransMode: TRANS_RECVONLY, CommID: id,
			})
		}},
		{"run control", "runCtrl", func(id string) (*CommonResponse, CmdResult) {
			return c.RunCtrlChan(&RunCtrlParam{ConfID: "1", ChanID: "2", Operation: RUNCTRL_START, Media: MEDIA_ALL, CommID: id})
		}},
		{"play sound", "playSound", func(id string) (*CommonResponse, CmdResult) {
			return c.PlaySound(&PlaySoundParam{ConfID: "1", ChanID: "2", Mode: PLAY_SINGLE, SoundFile: "beep.wav", CommID: id})
		}},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := "op-" + strconv.Itoa(i)

			done := make(chan commonCall, 1)
			go func() {
				resp, result := tc.call(id)
				done <- commonCall{resp, result}
			}()

			msg, addr := fake.recv(time.Second)
			require.Equal(t, id, gjson.GetBytes(msg, "id").String())
			require.True(t, gjson.GetBytes(msg, tc.key).IsObject(), "command key %s", tc.key)
			fake.send(addr, `{"id":"`+id+`","error":{"code":0,"message":"ok"}}`)

			r := <-done
			require.Equal(t, ResultSuccess, r.result)
			require.Equal(t, uint(0), r.resp.Code)
			require.Equal(t, id, r.resp.CommID)
		})
	}
}

func TestTimeoutReleasesGate(t *testing.T) {
	c, fake := newTestClient(t, WithTimeout(400*time.Millisecond))

	type timed struct {
		result  CmdResult
		elapsed time.Duration
	}
	done := make(chan timed, 1)
	go func() {
		start := time.Now()
		_, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "t1"})
		done <- timed{result, time.Since(start)}
	}()

	_, addr := fake.recv(time.Second) // swallow the command, never reply

	r := <-done
	require.Equal(t, ResultError, r.result)
	require.GreaterOrEqual(t, r.elapsed, 400*time.Millisecond)
	require.Less(t, r.elapsed, 1500*time.Millisecond)

	// a reply for the abandoned command must not confuse the next call
	fake.send(addr, `{"id":"t1","error":{"code":0,"message":"late"}}`)

	done2 := make(chan commonCall, 1)
	go func() {
		resp, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "t2"})
		done2 <- commonCall{resp, result}
	}()

	msg, addr := fake.recv(time.Second)
	require.Equal(t, "t2", gjson.GetBytes(msg, "id").String())
	fake.send(addr, `{"id":"t2","error":{"code":0,"message":"ok"}}`)

	r2 := <-done2
	require.Equal(t, ResultSuccess, r2.result)
	require.Equal(t, "t2", r2.resp.CommID)
}

func TestMalformedReply(t *testing.T) {
	c, fake := newTestClient(t)

	done := make(chan commonCall, 1)
	go func() {
		resp, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "m1"})
		done <- commonCall{resp, result}
	}()

	_, addr := fake.recv(time.Second)
	fake.send(addr, `{broken`)

	r := <-done
	require.Equal(t, ResultError, r.result)

	// the gate is released, the next call works
	done2 := make(chan commonCall, 1)
	go func() {
		resp, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "m2"})
		done2 <- commonCall{resp, result}
	}()

	_, addr = fake.recv(time.Second)
	fake.send(addr, `{"id":"m2","error":{"code":0,"message":"ok"}}`)
	require.Equal(t, ResultSuccess, (<-done2).result)
}

func TestMismatchedIDKeepsWaiting(t *testing.T) {
	c, fake := newTestClient(t)

	done := make(chan commonCall, 1)
	go func() {
		resp, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "good"})
		done <- commonCall{resp, result}
	}()

	_, addr := fake.recv(time.Second)
	fake.send(addr, `{"id":"stranger","error":{"code":0,"message":"not yours"}}`)
	fake.send(addr, `{"id":"good","error":{"code":0,"message":"ok"}}`)

	r := <-done
	require.Equal(t, ResultSuccess, r.result)
	require.Equal(t, "good", r.resp.CommID)
	require.Equal(t, "ok", r.resp.Message)
}

func TestNotificationDoesNotPoisonCall(t *testing.T) {
	notes := make(chan *Notification, 1)
	c, fake := newTestClient(t, WithNotifyHandler(func(n *Notification) {
		notes <- n
	}))

	done := make(chan commonCall, 1)
	go func() {
		resp, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "n1"})
		done <- commonCall{resp, result}
	}()

	_, addr := fake.recv(time.Second)
	fake.send(addr, `{"event":"chanDown","conf_id":"85883","chan_id":"00001","reason":"peer gone"}`)
	fake.send(addr, `{"id":"n1","error":{"code":0,"message":"ok"}}`)

	r := <-done
	require.Equal(t, ResultSuccess, r.result)

	n := <-notes
	require.Equal(t, "chanDown", n.Event)
	require.Equal(t, "85883", n.ConfID)
	require.Equal(t, "00001", n.ChanID)
	require.Equal(t, "peer gone", n.Data["reason"])
}

func TestSingleFlight(t *testing.T) {
	const callers = 5
	c, fake := newTestClient(t, WithTimeout(3*time.Second))

	type result struct {
		commID string
		resp   *AllocPortNormalResponse
		result CmdResult
	}
	done := make(chan result, callers)
	for i := 0; i < callers; i++ {
		id := "cc" + strconv.Itoa(i)
		go func() {
			resp, res := c.AllocPortNormal(&AllocPortParam{ConfID: "1", ChanID: "2", CommID: id})
			done <- result{id, resp, res}
		}()
	}

	portByID := make(map[string]int)
	for i := 0; i < callers; i++ {
		msg, addr := fake.recv(2 * time.Second)
		id := gjson.GetBytes(msg, "id").String()
		_, seen := portByID[id]
		require.False(t, seen, "command %s sent twice", id)

		if i < 2 {
			// the gate admits one command at a time
			fake.expectQuiet(30 * time.Millisecond)
		}

		port := 40000 + 2*i
		portByID[id] = port
		fake.send(addr, `{"id":"`+id+`","port_id":"P`+strconv.Itoa(i)+`","InfoPort":{"rtp_port":"`+strconv.Itoa(port)+`","rtcp_port":"`+strconv.Itoa(port+1)+`"},"error":{"code":0,"message":"ok"}}`)
	}

	for i := 0; i < callers; i++ {
		r := <-done
		require.Equal(t, ResultSuccess, r.result)
		require.Equal(t, r.commID, r.resp.CommID)
		require.Equal(t, uint(portByID[r.commID]), r.resp.RtpPort)
	}
}

// Callers of different kinds never observe each other's response data.
func TestSlotIsolation(t *testing.T) {
	c, fake := newTestClient(t, WithTimeout(3*time.Second))

	type anyResult struct {
		commID string
		resp   any
		result CmdResult
	}
	done := make(chan anyResult, 3)

	go func() {
		resp, res := c.AllocPortNormal(&AllocPortParam{ConfID: "1", ChanID: "2", CommID: "norm"})
		done <- anyResult{"norm", resp, res}
	}()
	go func() {
		resp, res := c.AllocPortIce(&AllocPortParam{ConfID: "1", ChanID: "2", CommID: "ice"})
		done <- anyResult{"ice", resp, res}
	}()
	go func() {
		resp, res := c.SetGlobalParam(&GlobalParam{
			StunAddr: "10.0.0.1", StunPort: 1, TurnAddr: "10.0.0.2", TurnPort: 2, CommID: "glob",
		})
		done <- anyResult{"glob", resp, res}
	}()

	for i := 0; i < 3; i++ {
		msg, addr := fake.recv(2 * time.Second)
		id := gjson.GetBytes(msg, "id").String()
		switch {
		case gjson.GetBytes(msg, "addPort").Exists() && gjson.GetBytes(msg, "addPort.ICE").String() == "1":
			fake.send(addr, `{"id":"`+id+`","port_id":"PI","InfoICE":{"ice_ufrag":"uf","ice_pwd":"pw","candidate":["candidate:1 x"]},"error":{"code":0,"message":"ok"}}`)
		case gjson.GetBytes(msg, "addPort").Exists():
			fake.send(addr, `{"id":"`+id+`","port_id":"PN","InfoPort":{"rtp_port":"41000","rtcp_port":"41001"},"error":{"code":0,"message":"ok"}}`)
		default:
			fake.send(addr, `{"id":"`+id+`","error":{"code":0,"message":"ok"}}`)
		}
	}

	for i := 0; i < 3; i++ {
		r := <-done
		require.Equal(t, ResultSuccess, r.result, r.commID)
		switch r.commID {
		case "norm":
			resp := r.resp.(*AllocPortNormalResponse)
			require.Equal(t, "norm", resp.CommID)
			require.Equal(t, "PN", resp.PortID)
			require.Equal(t, uint(41000), resp.RtpPort)
		case "ice":
			resp := r.resp.(*AllocPortIceResponse)
			require.Equal(t, "ice", resp.CommID)
			require.Equal(t, "PI", resp.PortID)
			require.Equal(t, []string{"candidate:1 x"}, resp.Candidates)
		case "glob":
			resp := r.resp.(*CommonResponse)
			require.Equal(t, "glob", resp.CommID)
		}
	}
}

func TestShutdownIdempotent(t *testing.T) {
	c, _ := newTestClient(t)

	c.Shutdown()
	c.Shutdown()

	_, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "x"})
	require.Equal(t, ResultLinkDisconnect, result)
}

func TestShutdownWakesWaiter(t *testing.T) {
	c, fake := newTestClient(t, WithTimeout(5*time.Second))

	type timed struct {
		result  CmdResult
		elapsed time.Duration
	}
	done := make(chan timed, 1)
	go func() {
		start := time.Now()
		_, result := c.DeallocPort(&DeallocPortParam{ConfID: "1", ChanID: "2", PortID: "P7", CommID: "w1"})
		done <- timed{result, time.Since(start)}
	}()

	fake.recv(time.Second) // the command is in flight now
	c.Shutdown()

	r := <-done
	require.Equal(t, ResultLinkDisconnect, r.result)
	require.Less(t, r.elapsed, 2*time.Second)
}

func TestConnectRemovesStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	cliPath := filepath.Join(dir, "cli.sock")
	require.NoError(t, os.WriteFile(cliPath, []byte("stale"), 0o600))

	c, err := NewClient(NewEngine(),
		WithServerPath(filepath.Join(dir, "srv.sock")),
		WithClientPath(cliPath),
	)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Shutdown)
}

func TestConnectTwice(t *testing.T) {
	c, _ := newTestClient(t)
	require.Error(t, c.Connect())
}

func TestCallBeforeConnect(t *testing.T) {
	c, err := NewClient(NewEngine())
	require.NoError(t, err)

	_, result := c.RunCtrlChan(&RunCtrlParam{ConfID: "1", ChanID: "2", Operation: RUNCTRL_START, Media: MEDIA_ALL, CommID: "x"})
	require.Equal(t, ResultLinkDisconnect, result)
}

func TestDefaultTimeout(t *testing.T) {
	require.Equal(t, 5*time.Second, DefaultCmdTimeout)
	require.Equal(t, DefaultCmdTimeout, NewEngine().GetTimeout())
}

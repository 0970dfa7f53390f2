package avs

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// Notification is an unsolicited message from AVS, a datagram carrying no
// "id". Fields AVS did not set stay zero; unknown keys land in Data.
type Notification struct {
	Event  string         `mapstructure:"event"`
	ConfID string         `mapstructure:"conf_id"`
	ChanID string         `mapstructure:"chan_id"`
	Data   map[string]any `mapstructure:",remain"`
}

// NotifyFunc handles notifications. It runs on the receiver goroutine, so it
// must not block.
type NotifyFunc func(*Notification)

// DecodeNotification maps an id-less datagram into a Notification.
func DecodeNotification(msg []byte) (*Notification, error) {
	raw := make(map[string]any)
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}

	n := &Notification{}
	cfg := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   n,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *Client) notification(msg []byte) {
	if c.notify == nil {
		c.log.Debug().Str("msg", string(msg)).Msg("maybe a notification from AVS")
		return
	}

	n, err := DecodeNotification(msg)
	if err != nil {
		c.log.Warn().Err(err).Msg("decode notification failed")
		return
	}
	c.notify(n)
}

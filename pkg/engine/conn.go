// Package engine implements the per-session send, receive, retransmit,
// and heartbeat logic shared by the server and client orchestration
// layers. A Conn wraps one established session and knows nothing about
// how sessions are discovered, admitted, or torn down — that policy
// lives in pkg/server and pkg/client, both built on top of Conn.
package engine

import (
	"encoding/binary"
	"time"

	"github.com/corvidnet/reliant/pkg/network"
	"github.com/corvidnet/reliant/pkg/protocol"
	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/wire"
)

// DecodedMessage is an application message recovered from a Data packet,
// paired with the tag it was carried under.
type DecodedMessage struct {
	Tag     uint16
	Message interface{}
}

// Conn drives one session's traffic: encoding and sealing outbound
// messages, opening and reassembling inbound ones, and running the
// periodic retransmit/heartbeat sweep.
type Conn struct {
	Session           *session.Session
	net               network.Network
	proto             protocol.Protocol
	codec             *wire.Codec
	heartbeatInterval time.Duration
}

// New wraps sess with the send/receive engine. heartbeatInterval of 0
// disables heartbeat emission (the caller relies on traffic alone).
func New(sess *session.Session, net network.Network, proto protocol.Protocol, heartbeatInterval time.Duration) *Conn {
	return &Conn{
		Session:           sess,
		net:               net,
		proto:             proto,
		codec:             wire.NewCodec(),
		heartbeatInterval: heartbeatInterval,
	}
}

// Send encodes msg through the Protocol and transmits it as a Data
// packet. Reliable sends are tracked for retransmission until acked;
// unreliable sends are fire-and-forget. A queue-overflow error from the
// session's send tracker is returned to the caller, which per the
// transport's error-handling policy should close the session with a
// network-error reason.
func (c *Conn) Send(msg interface{}, reliable bool) error {
	tag, payload, err := c.proto.Encode(msg)
	if err != nil {
		return err
	}
	if !reliable {
		return c.sendData(0, false, tag, payload)
	}

	seq, err := c.Session.SendTracker().Track(packBlob(tag, payload), time.Now())
	if err != nil {
		return err
	}
	return c.sendData(seq, true, tag, payload)
}

func (c *Conn) sendData(seq uint32, reliable bool, tag uint16, payload []byte) error {
	body, err := c.codec.EncodeDataBody(&wire.Data{Seq: seq, Reliable: reliable, MessageTag: tag, Payload: payload})
	if err != nil {
		return err
	}
	packet, err := c.Session.SealPacket(wire.PacketTypeData, body)
	if err != nil {
		return err
	}
	return c.net.Send(c.Session.PeerAddr(), packet)
}

// HandleData processes a decrypted Data packet, returning the messages
// now ready for dispatch in delivery order. Unreliable messages are
// always delivered immediately; reliable messages are reassembled via
// the session's reorder buffer and may be buffered or deduplicated. A
// reliable packet always provokes an ack, even if it carried nothing new.
func (c *Conn) HandleData(data *wire.Data) ([]DecodedMessage, error) {
	if !data.Reliable {
		msg, err := c.proto.Decode(data.MessageTag, data.Payload)
		if err != nil {
			return nil, err
		}
		return []DecodedMessage{{Tag: data.MessageTag, Message: msg}}, nil
	}

	deliverable, _ := c.Session.ReorderBuffer().Receive(data.Seq, packBlob(data.MessageTag, data.Payload))
	_ = c.sendAck()

	out := make([]DecodedMessage, 0, len(deliverable))
	for _, blob := range deliverable {
		tag, payload := unpackBlob(blob)
		msg, err := c.proto.Decode(tag, payload)
		if err != nil {
			continue
		}
		out = append(out, DecodedMessage{Tag: tag, Message: msg})
	}
	return out, nil
}

func (c *Conn) sendAck() error {
	ack := c.Session.ReorderBuffer().BuildAck()
	body, err := c.codec.EncodeAckBody(&ack)
	if err != nil {
		return err
	}
	packet, err := c.Session.SealPacket(wire.PacketTypeAck, body)
	if err != nil {
		return err
	}
	return c.net.Send(c.Session.PeerAddr(), packet)
}

// HandleAck retires every pending reliable message the ack covers and
// resets their retransmit backoff.
func (c *Conn) HandleAck(ack *wire.Ack) {
	c.Session.SendTracker().Ack(ack.UpTo, ack.Selective)
}

// SendHeartbeat emits an empty heartbeat packet to keep a quiet session
// from tripping the peer's idle timeout.
func (c *Conn) SendHeartbeat() error {
	packet, err := c.Session.SealPacket(wire.PacketTypeHeartbeat, c.codec.EncodeHeartbeatBody())
	if err != nil {
		return err
	}
	return c.net.Send(c.Session.PeerAddr(), packet)
}

// SendDisconnect emits a graceful or forced Disconnect packet carrying
// reason. Disconnects are sent best-effort, once, never retransmitted.
func (c *Conn) SendDisconnect(reason wire.DisconnectReason) error {
	body, err := c.codec.EncodeDisconnectBody(reason)
	if err != nil {
		return err
	}
	packet, err := c.Session.SealPacket(wire.PacketTypeDisconnect, body)
	if err != nil {
		return err
	}
	return c.net.Send(c.Session.PeerAddr(), packet)
}

// RunMaintenance retransmits whatever is due and emits a heartbeat if
// the session has been quiet for heartbeatInterval. It returns the
// sequence numbers of messages that exhausted their retransmit budget;
// the caller owns declaring the session failed in response.
func (c *Conn) RunMaintenance(now time.Time) (failedSeqs []uint32) {
	retransmit, expired := c.Session.SendTracker().DueForRetransmit(now)
	for _, msg := range retransmit {
		tag, payload := unpackBlob(msg.Payload)
		if err := c.sendData(msg.Seq, true, tag, payload); err == nil {
			c.Session.SendTracker().MarkSent(msg.Seq, now)
			if obs := c.Session.Observer(); obs != nil {
				obs.OnRetransmit(msg.Seq)
			}
		}
	}
	for _, msg := range expired {
		c.Session.SendTracker().Drop(msg.Seq)
		failedSeqs = append(failedSeqs, msg.Seq)
	}

	if c.heartbeatInterval > 0 && c.Session.IdleDuration() >= c.heartbeatInterval {
		_ = c.SendHeartbeat()
	}
	return failedSeqs
}

// packBlob bundles a message tag and payload into the single byte slice
// the reliability package's generic tracker and reorder buffer store,
// since neither knows about application message tags.
func packBlob(tag uint16, payload []byte) []byte {
	blob := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(blob, tag)
	copy(blob[2:], payload)
	return blob
}

func unpackBlob(blob []byte) (uint16, []byte) {
	if len(blob) < 2 {
		return 0, nil
	}
	return binary.BigEndian.Uint16(blob[:2]), blob[2:]
}

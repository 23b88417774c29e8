package engine

import (
	"testing"
	"time"

	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/network"
	"github.com/corvidnet/reliant/pkg/protocol"
	"github.com/corvidnet/reliant/pkg/session"
	"github.com/corvidnet/reliant/pkg/wire"
)

type moveMsg struct {
	X, Y int
}

type chatMsg struct {
	Text string
}

// handshakeOverFabric drives a full four-message handshake between a
// client and server endpoint on a shared Fabric and returns both
// sessions, already Connected.
func handshakeOverFabric(t *testing.T, fabric *network.Fabric) (clientSess, serverSess *session.Session, clientNet, serverNet *network.Simulated) {
	t.Helper()

	identity, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}

	clientNet = fabric.NewEndpoint("client")
	serverNet = fabric.NewEndpoint("server")

	cfg := session.DefaultConfig()
	clientHS := session.NewClientHandshake(identity.PublicKey, cfg)
	serverHS := session.NewServerHandshake(identity, cfg)

	hello, err := clientHS.CreateClientHello()
	if err != nil {
		t.Fatalf("CreateClientHello: %v", err)
	}
	if err := clientNet.Send(serverNet.LocalAddr(), hello); err != nil {
		t.Fatalf("send ClientHello: %v", err)
	}
	from, data, err := serverNet.Receive()
	if err != nil {
		t.Fatalf("receive ClientHello: %v", err)
	}

	if _, err := serverHS.ProcessClientHello(data, from, nil); err != nil {
		t.Fatalf("ProcessClientHello: %v", err)
	}
	serverHello, err := serverHS.CreateServerHello()
	if err != nil {
		t.Fatalf("CreateServerHello: %v", err)
	}
	if err := serverNet.Send(clientNet.LocalAddr(), serverHello); err != nil {
		t.Fatalf("send ServerHello: %v", err)
	}

	from, data, err = clientNet.Receive()
	if err != nil {
		t.Fatalf("receive ServerHello: %v", err)
	}
	clientSess, err = clientHS.ProcessServerHello(data, from, nil)
	if err != nil {
		t.Fatalf("ProcessServerHello: %v", err)
	}

	finish, err := clientHS.CreateClientFinish()
	if err != nil {
		t.Fatalf("CreateClientFinish: %v", err)
	}
	if err := clientNet.Send(serverNet.LocalAddr(), finish); err != nil {
		t.Fatalf("send ClientFinish: %v", err)
	}

	_, data, err = serverNet.Receive()
	if err != nil {
		t.Fatalf("receive ClientFinish: %v", err)
	}
	if err := serverHS.ProcessClientFinish(data); err != nil {
		t.Fatalf("ProcessClientFinish: %v", err)
	}
	welcome, err := serverHS.CreateServerWelcome(nil)
	if err != nil {
		t.Fatalf("CreateServerWelcome: %v", err)
	}
	if err := serverNet.Send(clientNet.LocalAddr(), welcome); err != nil {
		t.Fatalf("send ServerWelcome: %v", err)
	}

	_, data, err = clientNet.Receive()
	if err != nil {
		t.Fatalf("receive ServerWelcome: %v", err)
	}
	if _, err := clientHS.ProcessServerWelcome(data); err != nil {
		t.Fatalf("ProcessServerWelcome: %v", err)
	}

	return clientSess, serverHS.Session(), clientNet, serverNet
}

func newTestRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	_ = r.Register(&moveMsg{})
	_ = r.Register(&chatMsg{})
	return r
}

func TestConnReliableRoundTrip(t *testing.T) {
	fabric := network.NewFabric(network.NoFaults, 1)
	clientSess, serverSess, clientNet, serverNet := handshakeOverFabric(t, fabric)

	reg := newTestRegistry()
	client := New(clientSess, clientNet, reg, 0)
	server := New(serverSess, serverNet, reg, 0)

	if err := client.Send(&moveMsg{X: 1, Y: 2}, true); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	_, raw, err := serverNet.Receive()
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	pktType, plaintext, err := serverSess.OpenPacket(raw)
	if err != nil {
		t.Fatalf("OpenPacket: %v", err)
	}
	data, err := server.codec.DecodeDataBody(plaintext)
	if err != nil {
		t.Fatalf("DecodeDataBody: %v", err)
	}
	if pktType.String() != "Data" {
		t.Fatalf("expected Data packet, got %v", pktType)
	}

	msgs, err := server.HandleData(data)
	if err != nil {
		t.Fatalf("HandleData: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 deliverable message, got %d", len(msgs))
	}
	move, ok := msgs[0].Message.(*moveMsg)
	if !ok || move.X != 1 || move.Y != 2 {
		t.Fatalf("unexpected decoded message: %#v", msgs[0].Message)
	}

	_, raw, err = clientNet.Receive()
	if err != nil {
		t.Fatalf("client Receive ack: %v", err)
	}
	pktType, plaintext, err = clientSess.OpenPacket(raw)
	if err != nil {
		t.Fatalf("client OpenPacket ack: %v", err)
	}
	if pktType.String() != "Ack" {
		t.Fatalf("expected Ack packet, got %v", pktType)
	}
	ack, err := client.codec.DecodeAckBody(plaintext)
	if err != nil {
		t.Fatalf("DecodeAckBody: %v", err)
	}
	client.HandleAck(ack)

	if n := clientSess.SendTracker().PendingCount(); n != 0 {
		t.Fatalf("expected 0 pending after ack, got %d", n)
	}
}

func TestConnReorderBuffersOutOfOrderDelivery(t *testing.T) {
	fabric := network.NewFabric(network.NoFaults, 2)
	_, serverSess, _, serverNet := handshakeOverFabric(t, fabric)

	reg := newTestRegistry()
	server := New(serverSess, serverNet, reg, 0)

	tag, payload, err := reg.Encode(&chatMsg{Text: "b"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second := &wire.Data{Seq: 2, Reliable: true, MessageTag: tag, Payload: payload}

	msgs, err := server.HandleData(second)
	if err != nil {
		t.Fatalf("HandleData(seq 2): %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected nothing deliverable out of order, got %d", len(msgs))
	}

	tag, payload, err = reg.Encode(&chatMsg{Text: "a"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	first := &wire.Data{Seq: 1, Reliable: true, MessageTag: tag, Payload: payload}

	msgs, err = server.HandleData(first)
	if err != nil {
		t.Fatalf("HandleData(seq 1): %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected both messages deliverable once seq 1 arrives, got %d", len(msgs))
	}
	if msgs[0].Message.(*chatMsg).Text != "a" || msgs[1].Message.(*chatMsg).Text != "b" {
		t.Fatalf("expected in-order delivery a,b; got %q,%q", msgs[0].Message.(*chatMsg).Text, msgs[1].Message.(*chatMsg).Text)
	}
}

func TestConnRunMaintenanceRetransmitsAndExpires(t *testing.T) {
	fabric := network.NewFabric(network.NoFaults, 3)
	clientSess, _, clientNet, _ := handshakeOverFabric(t, fabric)

	reg := newTestRegistry()
	client := New(clientSess, clientNet, reg, 0)

	if err := client.Send(&moveMsg{X: 5, Y: 6}, true); err != nil {
		t.Fatalf("Send: %v", err)
	}

	now := time.Now().Add(2 * time.Second)
	failed := client.RunMaintenance(now)
	if len(failed) != 0 {
		t.Fatalf("expected no failures on first retransmit pass, got %v", failed)
	}
	if n := clientSess.SendTracker().PendingCount(); n != 1 {
		t.Fatalf("expected message still pending after retransmit, got %d", n)
	}

	later := now.Add(20 * time.Second)
	for i := 0; i < 10; i++ {
		failed = client.RunMaintenance(later)
		later = later.Add(2 * time.Second)
	}
	if len(failed) == 0 {
		t.Fatalf("expected message to exhaust its retransmit budget")
	}
}

package integration

import (
	"testing"
	"time"

	"github.com/corvidnet/reliant/pkg/client"
	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/server"
)

func TestMaxConnectionsPerIPRejectsExtraHandshake(t *testing.T) {
	identity, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	reg := newRegistry(t)

	scfg := server.DefaultConfig()
	scfg.BindAddress = "127.0.0.1:0"
	scfg.Protocol = reg
	scfg.Identity = identity
	scfg.MaxConnectionsPerIP = 1

	srv := startServer(t, scfg)

	ccfg := client.DefaultConfig()
	ccfg.ServerAddress = srv.Addr().String()
	ccfg.Protocol = reg
	ccfg.ServerIdentity = identity.PublicKey

	cli1, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli1.Connect(); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	defer func() { _ = cli1.Close() }()

	deadline := time.Now().Add(time.Second)
	for len(srv.GetConnectedSessions()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cli2, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli2.Connect(); err == nil {
		_ = cli2.Close()
		t.Fatal("expected second connection from the same IP to be rejected")
	}

	if err := cli1.Close(); err != nil {
		t.Fatalf("close first client: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for len(srv.GetConnectedSessions()) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cli3, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli3.Connect(); err != nil {
		t.Fatalf("third Connect should succeed once the slot is released: %v", err)
	}
	_ = cli3.Close()
}

func TestHandshakeRateLimitRejectsBurstOverflow(t *testing.T) {
	identity, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair: %v", err)
	}
	reg := newRegistry(t)

	scfg := server.DefaultConfig()
	scfg.BindAddress = "127.0.0.1:0"
	scfg.Protocol = reg
	scfg.Identity = identity
	scfg.HandshakeRate = 1.0
	scfg.HandshakeBurst = 1

	srv := startServer(t, scfg)

	ccfg := client.DefaultConfig()
	ccfg.ServerAddress = srv.Addr().String()
	ccfg.Protocol = reg
	ccfg.ServerIdentity = identity.PublicKey

	cli1, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli1.Connect(); err != nil {
		t.Fatalf("first handshake (burst) failed: %v", err)
	}
	defer func() { _ = cli1.Close() }()

	cli2, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli2.Connect(); err == nil {
		_ = cli2.Close()
		t.Fatal("expected immediate second handshake to be rate limited")
	}

	time.Sleep(1100 * time.Millisecond)

	cli3, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	if _, err := cli3.Connect(); err != nil {
		t.Fatalf("handshake after refill should succeed: %v", err)
	}
	_ = cli3.Close()
}

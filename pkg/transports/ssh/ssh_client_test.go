package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal SSH server with a read-only SFTP subsystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(channel, sftp.ReadOnly())
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		}
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

func (s *testSSHServer) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		_ = s.listener.Close()
	}
}

func (s *testSSHServer) clientConfig(t *testing.T) *Config {
	t.Helper()
	host, port := parseAddress(s.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second
	return config
}

func connectedClient(t *testing.T, config *Config) *Client {
	t.Helper()
	client, err := NewClient(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect() })
	return client
}

func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

func TestClient_Connect(t *testing.T) {
	server := newTestSSHServer(t)
	config := server.clientConfig(t)

	client := connectedClient(t, config)

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	info := client.GetConnectionInfo()
	if info.Host != config.Host {
		t.Errorf("expected host '%s', got '%s'", config.Host, info.Host)
	}
	if info.User != "testuser" {
		t.Errorf("expected user 'testuser', got '%s'", info.User)
	}
	if info.ViaProxy {
		t.Error("expected a direct connection")
	}
}

func TestClient_Connect_WrongPassword(t *testing.T) {
	server := newTestSSHServer(t)
	config := server.clientConfig(t)
	config.Password = "wrong"

	client, err := NewClient(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "connect" {
		t.Errorf("expected connect TransportError, got %v", err)
	}
	if client.IsConnected() {
		t.Error("client should not be connected")
	}
}

func TestClient_HealthCheck(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server.clientConfig(t))

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}
}

func TestClient_Disconnect(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server.clientConfig(t))

	if err := client.Disconnect(); err != nil {
		t.Errorf("disconnect failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("health check should fail after disconnect")
	}
	if _, err := client.ReadFile(context.Background(), "/etc/hostname"); err == nil {
		t.Error("read should fail after disconnect")
	}
}

func TestClient_ReadFile(t *testing.T) {
	server := newTestSSHServer(t)
	client := connectedClient(t, server.clientConfig(t))

	dir := t.TempDir()
	path := filepath.Join(dir, "web.yaml")
	content := []byte("name: web\nversion: 1.0.0\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	data, err := client.ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("expected %q, got %q", content, data)
	}

	sum, err := client.Checksum(context.Background(), path)
	if err != nil {
		t.Fatalf("Checksum failed: %v", err)
	}
	want := sha256.Sum256(content)
	if sum != hex.EncodeToString(want[:]) {
		t.Errorf("unexpected checksum %s", sum)
	}
}

func TestClient_ReadFile_Errors(t *testing.T) {
	server := newTestSSHServer(t)
	config := server.clientConfig(t)
	config.MaxFileSize = 4
	client := connectedClient(t, config)

	dir := t.TempDir()
	large := filepath.Join(dir, "large.yaml")
	if err := os.WriteFile(large, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		temporary bool
	}{
		{"missing file", filepath.Join(dir, "missing.yaml"), false},
		{"directory", dir, false},
		{"too large", large, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ReadFile(context.Background(), tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			var terr *TransportError
			if !errors.As(err, &terr) {
				t.Fatalf("expected TransportError, got %T", err)
			}
			if terr.Temporary() != tt.temporary {
				t.Errorf("expected temporary=%v, got %v", tt.temporary, terr.Temporary())
			}
		})
	}
}

func TestClient_KeyBasedAuth(t *testing.T) {
	server := newTestSSHServer(t)

	keyPath := filepath.Join(t.TempDir(), "test_key")
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	config := server.clientConfig(t)
	config.AuthMethod = AuthMethodKey
	config.Password = ""
	config.PrivateKeyPath = keyPath

	client := connectedClient(t, config)
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

// parseAddress splits an address into host and port.
func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

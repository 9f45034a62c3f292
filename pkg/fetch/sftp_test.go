package fetch

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/transports/ssh"
)

// mockReader is an in-memory ssh.Reader.
type mockReader struct {
	files       map[string]string
	connectErr  error
	connects    int
	disconnects int
}

func (m *mockReader) Connect(ctx context.Context) error {
	m.connects++
	return m.connectErr
}

func (m *mockReader) Disconnect() error {
	m.disconnects++
	return nil
}

func (m *mockReader) IsConnected() bool { return m.connectErr == nil }

func (m *mockReader) HealthCheck(ctx context.Context) error { return nil }

func (m *mockReader) Checksum(ctx context.Context, p string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockReader) GetConnectionInfo() ssh.ConnectionInfo { return ssh.ConnectionInfo{} }

func (m *mockReader) ReadFile(ctx context.Context, p string) ([]byte, error) {
	body, ok := m.files[p]
	if !ok {
		return nil, &ssh.TransportError{Op: "read", Err: errors.New("file does not exist")}
	}
	return []byte(body), nil
}

func newTestSFTPBackend(readers map[string]*mockReader) (*SFTPBackend, *[]string) {
	base := ssh.DefaultConfig("", "froyo")
	b := NewSFTPBackend(base, zerolog.Nop())
	var dialed []string
	b.dial = func(cfg *ssh.Config, logger zerolog.Logger) (ssh.Reader, error) {
		key := cfg.User + "@" + cfg.Address()
		dialed = append(dialed, key)
		return readers[key], nil
	}
	return b, &dialed
}

func TestSFTPBackend_Fetch(t *testing.T) {
	reader := &mockReader{files: map[string]string{"/modules/web.yaml": "name: web\n"}}
	b, dialed := newTestSFTPBackend(map[string]*mockReader{"deploy@repo.example.com:22": reader})

	for i := 0; i < 2; i++ {
		u, _ := url.Parse("sftp://deploy@repo.example.com/modules/web.yaml")
		data, err := b.Fetch(context.Background(), u)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if string(data) != "name: web\n" {
			t.Errorf("unexpected body %q", data)
		}
	}

	if len(*dialed) != 1 {
		t.Errorf("expected one connection to be reused, dialed %v", *dialed)
	}
	if reader.connects != 2 {
		t.Errorf("expected Connect before every read, got %d", reader.connects)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if reader.disconnects != 1 {
		t.Errorf("expected one disconnect, got %d", reader.disconnects)
	}
}

func TestSFTPBackend_Fetch_Errors(t *testing.T) {
	reader := &mockReader{files: map[string]string{}}
	down := &mockReader{connectErr: &ssh.TransportError{Op: "connect", Err: errors.New("refused"), IsTemporary: true}}
	denied := &mockReader{connectErr: &ssh.TransportError{Op: "connect", Err: errors.New("auth"), IsAuthError: true}}

	b, _ := newTestSFTPBackend(map[string]*mockReader{
		"froyo@files:22":  reader,
		"froyo@down:22":   down,
		"froyo@denied:22": denied,
	})

	tests := []struct {
		location  string
		transient bool
		code      string
	}{
		{"sftp://files/missing.yaml", false, ""},
		{"sftp://down/web.yaml", true, ""},
		{"sftp://denied/web.yaml", false, engine.ErrCodePermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			u, _ := url.Parse(tt.location)
			_, err := b.Fetch(context.Background(), u)
			if err == nil {
				t.Fatal("expected error")
			}
			if engine.IsTransient(err) != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", engine.IsTransient(err), tt.transient, err)
			}
			if tt.code != "" && engine.CodeOf(err) != tt.code {
				t.Errorf("code = %q, want %q", engine.CodeOf(err), tt.code)
			}
		})
	}
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport is a Transport backed by the built-in SSH client instead of
// the ssh/scp binaries. Files are fetched by streaming them through a
// remote cat, which keeps the remote side dependency-free.
type SSHTransport struct {
	keyPath        string
	knownHostsFile string
	logger         zerolog.Logger
}

// NewSSHTransport creates an SSHTransport. knownHostsFile may be empty, in
// which case ~/.ssh/known_hosts is used. Host key verification is always
// on; there is no insecure fallback.
func NewSSHTransport(keyPath, knownHostsFile string, logger zerolog.Logger) *SSHTransport {
	return &SSHTransport{
		keyPath:        keyPath,
		knownHostsFile: knownHostsFile,
		logger:         logger.With().Str("component", "ssh_native").Logger(),
	}
}

// Exec implements Transport.
func (t *SSHTransport) Exec(ctx context.Context, addr, command string) error {
	t.logger.Info().
		Str("host", addr).
		Str("remote_command", command).
		Msg("running remote command")

	client, err := t.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session on %s: %w", addr, err)
	}
	defer session.Close()

	if err := session.Run(command); err != nil {
		return fmt.Errorf("remote command on %s: %w", addr, err)
	}
	return nil
}

// Fetch implements Transport.
func (t *SSHTransport) Fetch(ctx context.Context, addr, remotePath, localPath string) error {
	t.logger.Info().
		Str("host", addr).
		Str("remote_path", remotePath).
		Str("local_path", localPath).
		Msg("fetching remote file")

	client, err := t.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session on %s: %w", addr, err)
	}
	defer session.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer out.Close()

	session.Stdout = out
	if err := session.Run(fmt.Sprintf("cat %s", remotePath)); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("fetch %s from %s: %w", remotePath, addr, err)
	}

	return out.Sync()
}

// dial opens an authenticated SSH connection to user@host.
func (t *SSHTransport) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	user, host, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(t.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}

	hostKeyCallback, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "22"))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", host, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// hostKeyCallback verifies remote host keys against a known_hosts file.
func (t *SSHTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := t.knownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("known_hosts file not found: %w", err)
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func splitAddr(addr string) (user, host string, err error) {
	parts := strings.SplitN(addr, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("remote address must be user@host")
	}
	return parts[0], parts[1], nil
}

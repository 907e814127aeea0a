package sensor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/r-smith/decoywire/internal/certutil"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/console"
	"golang.org/x/crypto/ssh"
)

// sshAuthDelay mimics the fixed delay PAM inserts after a failed password
// attempt.
var sshAuthDelay = 2 * time.Second

// newSSHConfig builds the SSH server configuration used by an SSH listener
// to capture authentication attempts. Every attempt is rejected; recording
// the submitted credentials is the only purpose.
func (s *Sensor) newSSHConfig(cfg *config.Listener) (*ssh.ServerConfig, error) {
	sshConfig := &ssh.ServerConfig{}

	privateKey, err := loadOrGenerateHostKey(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	sshConfig.AddHostKey(privateKey)

	// The version string advertised to connecting clients. Mimicking a
	// common OpenSSH build keeps scanners interested.
	sshConfig.ServerVersion = cfg.Banner
	if len(sshConfig.ServerVersion) == 0 {
		sshConfig.ServerVersion = config.DefaultBannerSSH
	}

	sshConfig.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		// Public key attempts carry nothing worth recording. Reject after a
		// short delay so clients fall back to password authentication.
		time.Sleep(200 * time.Millisecond)
		return nil, fmt.Errorf("permission denied")
	}

	sshConfig.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
		// Record the username and password submitted by the client.
		srcIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		dstIP, dstPort, _ := net.SplitHostPort(conn.LocalAddr().String())
		cfg.Logger.LogAttrs(context.Background(), slog.LevelInfo, "",
			slog.String("event_type", "ssh"),
			slog.String("source_ip", srcIP),
			slog.String("sensor_ip", dstIP),
			slog.String("sensor_port", dstPort),
			slog.String("sensor_name", config.Hostname),
			slog.Group("event_details",
				slog.String("username", conn.User()),
				slog.String("password", string(password)),
				slog.String("ssh_client", string(conn.ClientVersion())),
			),
		)

		// Print a simplified version of the request to the console.
		fmt.Printf("[SSH] %s Username: %s Password: %s\n", srcIP, conn.User(), string(password))

		time.Sleep(sshAuthDelay)
		return nil, fmt.Errorf("invalid username or password")
	}

	return sshConfig, nil
}

// captureSSH performs the SSH handshake on an observed connection. The
// authentication callbacks reject every attempt, so the handshake always
// ends in an error and no session is ever established.
func captureSSH(conn net.Conn, sshConfig *ssh.ServerConfig) {
	sshConn, _, _, err := ssh.NewServerConn(conn, sshConfig)
	if err != nil {
		return
	}
	_ = sshConn.Close()
}

// loadOrGenerateHostKey loads a private key from the specified path. If the
// key does not exist, a new ed25519 key is generated and saved to the path.
// A generated key that can't be saved is still used for the running process,
// at the cost of a changed host identity on restart.
func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key '%s': %w", path, err)
		}
		return signer, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read private key '%s': %w", path, err)
	}

	key, err := certutil.GenerateEd25519Key(path)
	if err != nil {
		var saveErr *certutil.SaveError
		if !errors.As(err, &saveErr) {
			return nil, err
		}
		console.Warning(console.Sens, "SSH host key not saved to '%s': %v", path, err)
	}
	return ssh.NewSignerFromKey(key)
}

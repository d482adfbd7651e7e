package runner

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// keyring holds what the dialer offers the bastion: the configured identity
// file, any running ssh-agent, then the usual ~/.ssh keys.
type keyring struct {
	signers   []gossh.Signer
	agent     agent.ExtendedAgent
	agentConn net.Conn
}

func defaultKeyPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_ecdsa"),
		filepath.Join(dir, "id_rsa"),
	}
}

func agentSocketFromEnv() string {
	return os.Getenv("SSH_AUTH_SOCK")
}

// loadKeyring fails only when an explicit identity file cannot be used.
// Unreadable default keys and an unreachable agent are skipped.
func loadKeyring(b Bastion, defaults []string, agentSocket string) (*keyring, error) {
	k := &keyring{}
	seen := map[string]bool{}

	if b.IdentityFile != "" {
		seen[absPath(b.IdentityFile)] = true
		signer, err := readSigner(b.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("load identity file %s: %w", b.IdentityFile, err)
		}
		k.signers = append(k.signers, signer)
	}

	for _, path := range defaults {
		abs := absPath(path)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		if signer, err := readSigner(path); err == nil {
			k.signers = append(k.signers, signer)
		}
	}

	if agentSocket != "" {
		if conn, err := net.Dial("unix", agentSocket); err == nil {
			k.agentConn = conn
			k.agent = agent.NewClient(conn)
		}
	}
	return k, nil
}

func (k *keyring) methods() []gossh.AuthMethod {
	var methods []gossh.AuthMethod
	if len(k.signers) > 0 {
		methods = append(methods, gossh.PublicKeys(k.signers...))
	}
	if k.agent != nil {
		methods = append(methods, gossh.PublicKeysCallback(k.agent.Signers))
	}
	return methods
}

// Close releases the agent socket. Call it once the handshake is done.
func (k *keyring) Close() error {
	if k.agentConn == nil {
		return nil
	}
	return k.agentConn.Close()
}

func readSigner(path string) (gossh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return gossh.ParsePrivateKey(pem)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

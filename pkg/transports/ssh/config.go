package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the executor authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// Config holds the connection settings of the remote executor. The jump
// host, if any, is reached with the same user and credentials.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is consulted when StrictHostKeyChecking is set.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration

	// MirrorDir is copied to the same absolute path on the remote host
	// before each command, so paths to rendered files stay valid there.
	MirrorDir string

	// MirrorExclude holds base-name glob patterns that are never mirrored.
	MirrorExclude []string

	ProxyHost string
	ProxyPort int
}

// DefaultConfig uses the user's ed25519 key and known_hosts.
func DefaultConfig(host, user string) *Config {
	sshDir := filepath.Join(os.Getenv("HOME"), ".ssh")
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		PrivateKeyPath:        filepath.Join(sshDir, "id_ed25519"),
		KnownHostsPath:        filepath.Join(sshDir, "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		ProxyPort:             22,
	}
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate checks the settings without touching the network or key files.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.User == "":
		return errors.New("user is required")
	case !validPort(c.Port):
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.ProxyHost != "" && !validPort(c.ProxyPort):
		return fmt.Errorf("invalid proxy port: %d", c.ProxyPort)
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password authentication requires a password")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return errors.New("key authentication requires a private key path")
		}
	default:
		return fmt.Errorf("unsupported auth method: %q", c.AuthMethod)
	}
	return nil
}

// BuildSSHClientConfig reads the key and known_hosts files named in c.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.auth()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) auth() ([]ssh.AuthMethod, error) {
	if c.AuthMethod == AuthMethodPassword {
		// Servers with PasswordAuthentication off often still prompt
		// through keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil
	}

	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if c.PrivateKeyPassphrase == "" {
		signer, err = ssh.ParsePrivateKey(pem)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil // #nosec G106 -- remote.insecure
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address is host:port of the target.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress is host:port of the jump host, or empty.
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

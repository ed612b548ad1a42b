package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SecureChannel runs operations over an authenticated SSH connection.
type SecureChannel struct {
	mu     sync.Mutex
	client *ssh.Client
	open   bool
}

// DialSecure opens the secure channel using the secret-store credential:
// key auth when a key is present, password auth otherwise.
func DialSecure(ctx context.Context, target string, port int, cred Credential) (Channel, error) {
	var methods []ssh.AuthMethod
	if cred.PrivateKeyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cred.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}
	cfg := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Timeout = time.Until(deadline)
	}
	addr := net.JoinHostPort(target, fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return &SecureChannel{client: ssh.NewClient(sshConn, chans, reqs), open: true}, nil
}

func (c *SecureChannel) Kind() string { return KindSecure }

func (c *SecureChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *SecureChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	return c.client.Close()
}

// Execute runs the named operation in a fresh session; the payload is
// handed to the remote runner on stdin. Cancellation closes the session.
func (c *SecureChannel) Execute(ctx context.Context, op Operation) (*Result, error) {
	c.mu.Lock()
	client := c.client
	open := c.open
	c.mu.Unlock()
	if !open {
		return nil, fmt.Errorf("channel closed")
	}
	session, err := client.NewSession()
	if err != nil {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		return nil, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if len(op.Payload) > 0 {
		session.Stdin = bytes.NewReader(op.Payload)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(op.Name) }()
	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	res := &Result{Output: stdout.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			res.Output = stdout.String() + stderr.String()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

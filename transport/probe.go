package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"fleetward/faults"
)

// Prober answers whether a target port has a live listener. Injected so
// negotiation is testable without sockets.
type Prober interface {
	// ProbePlain dials the port and reports listener presence.
	ProbePlain(ctx context.Context, host string, port int) error
	// ProbeSecure additionally completes a TLS handshake so certificate
	// trust problems surface as their own diagnostic.
	ProbeSecure(ctx context.Context, host string, port int) error
}

type NetProber struct {
	Timeout time.Duration
}

func (p *NetProber) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 5 * time.Second
	}
	return p.Timeout
}

func (p *NetProber) ProbePlain(ctx context.Context, host string, port int) error {
	d := net.Dialer{Timeout: p.timeout()}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return classifyProbe(err)
	}
	conn.Close()
	return nil
}

func (p *NetProber) ProbeSecure(ctx context.Context, host string, port int) error {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.timeout()},
		Config:    &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		var unknownAuthority x509.UnknownAuthorityError
		var hostnameErr x509.HostnameError
		if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
			return faults.Wrap(faults.KindConfiguration, DiagCertificateTrust, err)
		}
		return classifyProbe(err)
	}
	conn.Close()
	return nil
}

func classifyProbe(err error) error {
	kind := faults.Classify(err)
	if kind == faults.KindDevice {
		return faults.Wrap(faults.KindDevice, DiagNoListener, err)
	}
	return faults.Wrap(kind, "probe failed", err)
}

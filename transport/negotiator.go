package transport

import (
	"context"
	"fmt"

	"fleetward/faults"

	"github.com/rs/zerolog"
)

// Classified negotiation diagnostics.
const (
	DiagAccessDenied     = "AccessDenied"
	DiagNoListener       = "NoListener"
	DiagCertificateTrust = "CertificateTrust"
)

// Assessment is the per-target transport decision.
type Assessment struct {
	Target       string
	HTTPSOK      bool
	HTTPOK       bool
	InAllowList  bool
	DomainJoined bool
	Recommended  string // channel kind
	Ready        bool
	Message      string
}

// Negotiator decides, per target, how to obtain a usable channel, and
// owns the allow-list side effects that decision may require.
type Negotiator interface {
	Evaluate(ctx context.Context, target string) (*Assessment, error)
	Negotiate(ctx context.Context, target string, cred Credential) (Channel, error)
	ClearProgrammaticEntries() error
}

// Dialer opens a channel of one kind; injected per kind so tests can
// substitute in-memory channels.
type Dialer func(ctx context.Context, target string, port int, cred Credential) (Channel, error)

type StandardNegotiator struct {
	Probe        Prober
	Allow        AllowList
	DomainJoined func() bool
	SecurePort   int
	PlainPort    int
	DialSecure   Dialer
	DialPlain    Dialer
	Log          zerolog.Logger
}

// Evaluate applies the policy in order: integrated auth when the local
// node is domain-joined (no allow-list mutation), else the secure
// listener, else the plain listener behind an additive allow-list entry,
// else a classified failure.
func (n *StandardNegotiator) Evaluate(ctx context.Context, target string) (*Assessment, error) {
	a := &Assessment{Target: target}
	if n.DomainJoined != nil && n.DomainJoined() {
		a.DomainJoined = true
		a.Recommended = KindIntegrated
		a.Ready = true
		a.Message = "domain-joined: integrated authentication over the plain channel"
		return a, nil
	}

	secureErr := n.Probe.ProbeSecure(ctx, target, n.SecurePort)
	if secureErr == nil {
		a.HTTPSOK = true
		a.Recommended = KindSecure
		a.Ready = true
		a.Message = fmt.Sprintf("secure listener on port %d", n.SecurePort)
		return a, nil
	}
	if faults.KindOf(secureErr) == faults.KindConfiguration {
		// Listener exists but its certificate is not trusted; that is a
		// distinct, actionable condition rather than a fallthrough.
		a.Message = fmt.Sprintf("%s: secure listener on port %d has an untrusted certificate", DiagCertificateTrust, n.SecurePort)
		return a, faults.Wrap(faults.KindConfiguration, a.Message, secureErr)
	}

	plainErr := n.Probe.ProbePlain(ctx, target, n.PlainPort)
	if plainErr == nil {
		a.HTTPOK = true
		a.InAllowList = n.Allow.Contains(target)
		if !a.InAllowList {
			if err := n.Allow.Add(target); err != nil {
				a.Message = fmt.Sprintf("%s: cannot add %s to the local allow-list", DiagAccessDenied, target)
				return a, faults.Wrap(faults.KindAccessDenied, a.Message, err)
			}
			n.Log.Info().Str("target", target).Msg("added allow-list entry")
			a.InAllowList = true
		}
		a.Recommended = KindPlain
		a.Ready = true
		a.Message = fmt.Sprintf("plain listener on port %d, allow-listed", n.PlainPort)
		return a, nil
	}

	if faults.KindOf(secureErr) == faults.KindAccessDenied || faults.KindOf(plainErr) == faults.KindAccessDenied {
		a.Message = fmt.Sprintf("%s: %s refused negotiation", DiagAccessDenied, target)
		return a, faults.Wrap(faults.KindAccessDenied, a.Message, plainErr)
	}
	a.Message = fmt.Sprintf("%s: no listener on ports %d or %d", DiagNoListener, n.SecurePort, n.PlainPort)
	return a, faults.Wrap(faults.KindDevice, a.Message, plainErr)
}

// Negotiate evaluates the target and dials the recommended transport.
// Nothing is cached here; the session pool owns reuse.
func (n *StandardNegotiator) Negotiate(ctx context.Context, target string, cred Credential) (Channel, error) {
	a, err := n.Evaluate(ctx, target)
	if err != nil {
		return nil, err
	}
	switch a.Recommended {
	case KindSecure:
		return n.DialSecure(ctx, target, n.SecurePort, cred)
	case KindPlain, KindIntegrated:
		return n.DialPlain(ctx, target, n.PlainPort, cred)
	default:
		return nil, faults.Newf(faults.KindConfiguration, "no transport recommended for %s", target)
	}
}

func (n *StandardNegotiator) ClearProgrammaticEntries() error {
	return n.Allow.ClearProgrammatic()
}

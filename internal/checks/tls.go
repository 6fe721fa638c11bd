package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/david-crosby/macmocker/internal/result"
)

// TLSOptions configures the tls check kind.
type TLSOptions struct {
	Target       string `mapstructure:"target"`
	SNI          string `mapstructure:"sni"`
	MinValidDays int    `mapstructure:"min_valid_days"`
	// CheckRegisteredDomain additionally requires the certificate names to
	// belong to the target's registered domain, catching interception
	// proxies that terminate TLS with their own certificate.
	CheckRegisteredDomain bool `mapstructure:"check_registered_domain"`
}

type tlsCheck struct {
	name string
	env  Environment
	opts TLSOptions
}

// NewTLSCheck builds a certificate check from configured options.
func NewTLSCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts TLSOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode tls options: %w", err)
	}
	if opts.Target == "" {
		return nil, errors.New("tls check requires a target option")
	}
	if !strings.Contains(opts.Target, ":") {
		opts.Target += ":443"
	}
	if opts.MinValidDays == 0 {
		opts.MinValidDays = 14
	}
	return &tlsCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *tlsCheck) Name() string { return c.name }

func (c *tlsCheck) Description() string {
	return fmt.Sprintf("verifies the certificate served by %s is valid for at least %d more days", c.opts.Target, c.opts.MinValidDays)
}

func (c *tlsCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	host, port, err := net.SplitHostPort(c.opts.Target)
	if err != nil {
		res.MarkError("invalid target", err.Error())
		return res
	}
	serverName := c.opts.SNI
	if serverName == "" {
		serverName = host
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), &tls.Config{ServerName: serverName})
	if err != nil {
		res.MarkFailed(fmt.Sprintf("tls handshake with %s failed", c.opts.Target), err.Error())
		return res
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		res.MarkFailed("server presented no certificates", "")
		return res
	}
	leaf := state.PeerCertificates[0]

	var failures []string
	days := time.Until(leaf.NotAfter).Hours() / 24
	if days < float64(c.opts.MinValidDays) {
		failures = append(failures, fmt.Sprintf("certificate expires in %.0f days, required %d", days, c.opts.MinValidDays))
	}
	if err := leaf.VerifyHostname(serverName); err != nil {
		failures = append(failures, fmt.Sprintf("hostname verification: %v", err))
	}
	if c.opts.CheckRegisteredDomain {
		if msg := registeredDomainMismatch(leaf, host); msg != "" {
			failures = append(failures, msg)
		}
	}

	if len(failures) > 0 {
		res.MarkFailed(strings.Join(failures, "; "), fmt.Sprintf("issuer %q, subject %q, not after %s", leaf.Issuer, leaf.Subject, leaf.NotAfter.Format(time.RFC3339)))
		return res
	}
	res.MarkPassed(fmt.Sprintf("certificate for %s valid for %.0f more days", serverName, days))
	return res
}

// registeredDomainMismatch reports whether none of the certificate's DNS
// names share the target host's registered domain.
func registeredDomainMismatch(cert *x509.Certificate, host string) string {
	want, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return fmt.Sprintf("registered domain of %q: %v", host, err)
	}
	for _, name := range cert.DNSNames {
		got, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimPrefix(name, "*."))
		if err == nil && got == want {
			return ""
		}
	}
	return fmt.Sprintf("certificate names %v do not belong to registered domain %s", cert.DNSNames, want)
}

package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	dnsclient "github.com/miekg/dns"

	"github.com/david-crosby/macmocker/internal/result"
)

// DNSOptions configures the dns check kind.
type DNSOptions struct {
	Domains    []string `mapstructure:"domains"`
	Resolver   string   `mapstructure:"resolver"`
	RecordType string   `mapstructure:"record_type"`
}

type dnsCheck struct {
	name string
	env  Environment
	opts DNSOptions
}

// NewDNSCheck builds a dns check from configured options.
func NewDNSCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts DNSOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode dns options: %w", err)
	}
	if len(opts.Domains) == 0 {
		return nil, errors.New("dns check requires at least one domain")
	}
	if opts.Resolver == "" {
		opts.Resolver = systemResolver()
	}
	return &dnsCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *dnsCheck) Name() string { return c.name }

func (c *dnsCheck) Description() string {
	return fmt.Sprintf("verifies %d domain(s) resolve via %s", len(c.opts.Domains), c.opts.Resolver)
}

func (c *dnsCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	client := &dnsclient.Client{}
	var failures []string
	for _, domain := range c.opts.Domains {
		msg := new(dnsclient.Msg)
		msg.SetQuestion(dnsclient.Fqdn(domain), dnsTypeFromString(c.opts.RecordType))
		resp, rtt, err := client.ExchangeContext(ctx, msg, c.opts.Resolver)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("%s: %v", domain, err))
		case resp.Rcode != dnsclient.RcodeSuccess:
			failures = append(failures, fmt.Sprintf("%s: rcode %s", domain, dnsclient.RcodeToString[resp.Rcode]))
		case len(resp.Answer) == 0:
			failures = append(failures, fmt.Sprintf("%s: no answers", domain))
		default:
			c.env.Logger.Debug("resolved", "test", c.name, "domain", domain, "answers", len(resp.Answer), "rtt", rtt)
		}
	}

	if len(failures) > 0 {
		res.MarkFailed(fmt.Sprintf("%d of %d domains failed to resolve", len(failures), len(c.opts.Domains)), strings.Join(failures, "\n"))
		return res
	}
	res.MarkPassed(fmt.Sprintf("all %d domains resolved via %s", len(c.opts.Domains), c.opts.Resolver))
	return res
}

// systemResolver picks the first nameserver from resolv.conf, falling back
// to a public resolver on hosts without one.
func systemResolver() string {
	conf, err := dnsclient.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && len(conf.Servers) > 0 {
		return net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return "8.8.8.8:53"
}

func dnsTypeFromString(t string) uint16 {
	switch strings.ToUpper(t) {
	case "", "A":
		return dnsclient.TypeA
	case "AAAA":
		return dnsclient.TypeAAAA
	case "CNAME":
		return dnsclient.TypeCNAME
	case "MX":
		return dnsclient.TypeMX
	case "TXT":
		return dnsclient.TypeTXT
	default:
		return dnsclient.TypeA
	}
}

package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ping/ping"

	"github.com/david-crosby/macmocker/internal/result"
)

// PingOptions configures the ping check kind.
type PingOptions struct {
	Host           string        `mapstructure:"host"`
	Count          int           `mapstructure:"count"`
	MaxLossPercent float64       `mapstructure:"max_loss_percent"`
	MaxAvgRTT      time.Duration `mapstructure:"max_avg_rtt"`
	Privileged     *bool         `mapstructure:"privileged"`
}

type pingCheck struct {
	name string
	env  Environment
	opts PingOptions
}

// NewPingCheck builds an ICMP reachability check from configured options.
func NewPingCheck(cfg FactoryConfig, env Environment) (Check, error) {
	var opts PingOptions
	if err := decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("decode ping options: %w", err)
	}
	if opts.Host == "" {
		return nil, errors.New("ping check requires a host option")
	}
	if opts.Count <= 0 {
		opts.Count = 3
	}
	return &pingCheck{name: cfg.Name, env: env, opts: opts}, nil
}

func (c *pingCheck) Name() string { return c.name }

func (c *pingCheck) Description() string {
	return fmt.Sprintf("verifies %s answers ICMP echo within loss and latency bounds", c.opts.Host)
}

func (c *pingCheck) Run(ctx context.Context) *result.Result {
	res := result.New(c.name, c.Description())
	res.MarkStarted()

	pinger, err := ping.NewPinger(c.opts.Host)
	if err != nil {
		res.MarkError("init pinger failed", err.Error())
		return res
	}
	privileged := true
	if c.opts.Privileged != nil {
		privileged = *c.opts.Privileged
	}
	pinger.SetPrivileged(privileged)
	pinger.Count = c.opts.Count
	pinger.Timeout = 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < pinger.Timeout {
			pinger.Timeout = remaining
		}
	}

	pinger.Run() // blocking
	stats := pinger.Statistics()

	if stats.PacketsRecv == 0 {
		res.MarkFailed(fmt.Sprintf("%s unreachable: no echo replies to %d probes", c.opts.Host, c.opts.Count), "")
		return res
	}
	if stats.PacketLoss > c.opts.MaxLossPercent {
		res.MarkFailed(fmt.Sprintf("packet loss %.1f%% exceeds %.1f%%", stats.PacketLoss, c.opts.MaxLossPercent), "")
		return res
	}
	if c.opts.MaxAvgRTT > 0 && stats.AvgRtt > c.opts.MaxAvgRTT {
		res.MarkFailed(fmt.Sprintf("average rtt %s exceeds %s", stats.AvgRtt.Round(time.Millisecond), c.opts.MaxAvgRTT), "")
		return res
	}
	res.MarkPassed(fmt.Sprintf("%d/%d replies, %.1f%% loss, avg rtt %s",
		stats.PacketsRecv, stats.PacketsSent, stats.PacketLoss, stats.AvgRtt.Round(time.Millisecond)))
	return res
}

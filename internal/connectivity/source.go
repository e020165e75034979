// Package connectivity observes the platform's network link and emits raw
// connectivity signals for the network monitor to classify.
package connectivity

import (
	"context"
	"net"
	"strings"
	"time"
)

// Transport is the coarse link type of the active network interface.
type Transport string

const (
	TransportWifi     Transport = "wifi"
	TransportEthernet Transport = "ethernet"
	TransportCellular Transport = "cellular"
	TransportUnknown  Transport = "unknown"
	TransportNone     Transport = "none"
)

// Signal is one raw connectivity observation.
type Signal struct {
	IsConnected         bool
	IsInternetReachable bool
	Transport           Transport
}

// Source yields connectivity signals. The monitor consumes the channel until
// it is closed or its context ends.
type Source interface {
	Signals() <-chan Signal
}

// Pinger checks end-to-end reachability of the remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls the local link state and probes remote reachability on an
// interval, emitting a Signal per observation.
type Prober struct {
	pinger   Pinger
	interval time.Duration
	signals  chan Signal
}

// NewProber creates a connectivity prober.
func NewProber(pinger Pinger, interval time.Duration) *Prober {
	return &Prober{
		pinger:   pinger,
		interval: interval,
		signals:  make(chan Signal, 1),
	}
}

// Signals returns the observation channel.
func (p *Prober) Signals() <-chan Signal {
	return p.signals
}

// Run probes until ctx is cancelled. An observation is taken immediately on
// start, then once per interval. The channel is closed on exit.
func (p *Prober) Run(ctx context.Context) {
	defer close(p.signals)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.emit(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.emit(ctx)
		}
	}
}

func (p *Prober) emit(ctx context.Context) {
	sig := p.observe(ctx)
	select {
	case p.signals <- sig:
	case <-ctx.Done():
	default:
		// Monitor is mid-pass; drop the observation, a fresh one follows.
	}
}

func (p *Prober) observe(ctx context.Context) Signal {
	transport := ActiveTransport()
	sig := Signal{
		IsConnected: transport != TransportNone,
		Transport:   transport,
	}
	if sig.IsConnected {
		sig.IsInternetReachable = p.pinger.Ping(ctx) == nil
	}
	return sig
}

// ActiveTransport inspects the host's network interfaces and reports the
// transport of the first up, non-loopback link. Wired and wireless names
// follow the predictable-interface-name conventions (en*/eth*, wl*, ww*).
func ActiveTransport() Transport {
	ifaces, err := net.Interfaces()
	if err != nil {
		return TransportUnknown
	}
	return transportFromInterfaces(ifaces)
}

func transportFromInterfaces(ifaces []net.Interface) Transport {
	best := TransportNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		switch classifyInterfaceName(iface.Name) {
		case TransportEthernet:
			return TransportEthernet
		case TransportWifi:
			best = TransportWifi
		case TransportCellular:
			if best == TransportNone || best == TransportUnknown {
				best = TransportCellular
			}
		default:
			if best == TransportNone {
				best = TransportUnknown
			}
		}
	}
	return best
}

func classifyInterfaceName(name string) Transport {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"):
		return TransportWifi
	case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
		return TransportEthernet
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"), strings.HasPrefix(name, "ppp"):
		return TransportCellular
	}
	return TransportUnknown
}

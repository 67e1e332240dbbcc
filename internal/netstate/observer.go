package netstate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// HostObserver is a PlatformObserver backed by host network interfaces.
// Change delivery is poll-based: Subscribe samples the interface table on
// an interval and fires on differences.
type HostObserver struct {
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHostObserver creates a host-interface observer. pollInterval defaults
// to 5s.
func NewHostObserver(pollInterval time.Duration, logger *slog.Logger) *HostObserver {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	return &HostObserver{
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Current samples the host interface table.
func (o *HostObserver) Current(ctx context.Context) (NetworkState, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return NetworkState{}, err
	}

	state := NetworkState{
		Type:       NetworkUnknown,
		ObservedAt: time.Now(),
		Details:    NetworkDetails{Strength: -1},
	}

	for _, iface := range ifaces {
		if !interfaceUp(iface) || interfaceLoopback(iface) {
			continue
		}
		if len(iface.Addrs) == 0 {
			continue
		}

		state.Connected = true
		if t := classifyInterface(iface.Name); betterType(state.Type, t) {
			state.Type = t
		}
	}

	return state, nil
}

// Subscribe polls for interface changes and fires fn on each difference.
func (o *HostObserver) Subscribe(fn func(NetworkState)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		var last *NetworkState
		ticker := time.NewTicker(o.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := o.Current(ctx)
				if err != nil {
					o.logger.Debug("interface poll failed", "error", err)
					continue
				}
				if last == nil || last.Connected != current.Connected || last.Type != current.Type {
					last = &current
					fn(current)
				}
			}
		}
	}()

	return func() {
		cancel()
		o.wg.Wait()
	}, nil
}

func interfaceUp(iface psnet.InterfaceStat) bool {
	for _, f := range iface.Flags {
		if f == "up" {
			return true
		}
	}
	return false
}

func interfaceLoopback(iface psnet.InterfaceStat) bool {
	for _, f := range iface.Flags {
		if f == "loopback" {
			return true
		}
	}
	return false
}

// classifyInterface maps an interface name to a network type by common
// kernel naming conventions.
func classifyInterface(name string) NetworkType {
	switch {
	case strings.HasPrefix(name, "wl"):
		return NetworkWifi
	case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "usb"):
		return NetworkCellular
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return NetworkEthernet
	default:
		return NetworkUnknown
	}
}

// betterType prefers ethernet over wifi over cellular over unknown when
// multiple interfaces are up.
func betterType(current, candidate NetworkType) bool {
	rank := func(t NetworkType) int {
		switch t {
		case NetworkEthernet:
			return 3
		case NetworkWifi:
			return 2
		case NetworkCellular:
			return 1
		default:
			return 0
		}
	}
	return rank(candidate) > rank(current)
}

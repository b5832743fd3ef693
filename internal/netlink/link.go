// Package netlink reports whether the host has a usable network path to the
// broker. It is the link layer under the broker session: the connection
// manager brings it up, waits for it and drops back to it when it fails.
package netlink

import (
	"context"
	"net"
	"sync"
	"time"
)

// defaultResolveTimeout bounds a single broker lookup.
const defaultResolveTimeout = 3 * time.Second

// Link checks for an active non-loopback interface and a resolvable broker.
//
// Begin starts a lookup in the background and returns immediately. Connected
// becomes true once the lookup succeeds and stays true while an interface
// remains up.
type Link struct {
	host string

	// Replaceable in tests.
	lookup     func(ctx context.Context, host string) ([]string, error)
	interfaces func() ([]net.Interface, error)
	addrs      func(iface net.Interface) ([]net.Addr, error)

	mu       sync.Mutex
	resolved bool
	cancel   context.CancelFunc
}

// New returns a Link for the broker at host.
func New(host string) *Link {
	return &Link{
		host:       host,
		lookup:     net.DefaultResolver.LookupHost,
		interfaces: net.Interfaces,
		addrs:      func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}
}

// Begin starts bringing the link up. Calling Begin again restarts the
// lookup.
func (l *Link) Begin(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.resolved = false
	ctx, cancel := context.WithTimeout(ctx, defaultResolveTimeout)
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		defer cancel()
		_, err := l.lookup(ctx, l.host)
		if err != nil {
			return
		}
		l.mu.Lock()
		if ctx.Err() == nil {
			l.resolved = true
		}
		l.mu.Unlock()
	}()

	return nil
}

// Connected reports whether the link is up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	resolved := l.resolved
	l.mu.Unlock()

	return resolved && l.interfaceUp()
}

// Disconnect drops the link state so the next Begin starts fresh.
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.resolved = false
}

func (l *Link) interfaceUp() bool {
	ifaces, err := l.interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := l.addrs(iface)
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

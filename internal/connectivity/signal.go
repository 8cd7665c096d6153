package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"pos-sync/internal/util"

	"go.uber.org/zap"
)

// Signal is the raw network-interface reading: necessary for reaching the
// back office but not sufficient.
type Signal interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type subscribers struct {
	mu     sync.RWMutex
	nextID int
	fns    []subscriber
}

type subscriber struct {
	id int
	fn func(online bool)
}

func (s *subscribers) add(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.fns = append(s.fns, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.fns {
			if s.fns[i].id == id {
				s.fns = append(s.fns[:i], s.fns[i+1:]...)
				return
			}
		}
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.RLock()
	fns := make([]subscriber, len(s.fns))
	copy(fns, s.fns)
	s.mu.RUnlock()

	for _, sub := range fns {
		sub.fn(online)
	}
}

// ManualSignal is driven explicitly, by the till UI or by tests
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewManualSignal creates a signal with the given initial reading
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online}
}

// Online returns the current reading
func (s *ManualSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set updates the reading and notifies subscribers when it changed
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.subs.notify(online)
	}
}

// Subscribe registers fn for online/offline transitions
func (s *ManualSignal) Subscribe(fn func(online bool)) func() {
	return s.subs.add(fn)
}

// InterfaceSignal reports online while the host has an up, non-loopback
// interface with at least one address. It polls; call Run to start it.
type InterfaceSignal struct {
	interval time.Duration
	check    func() bool
	logger   *zap.Logger

	mu     sync.Mutex
	online bool
	subs   subscribers
}

// NewInterfaceSignal creates a signal polling the host interfaces every interval
func NewInterfaceSignal(interval time.Duration) *InterfaceSignal {
	return newInterfaceSignal(interval, hasUsableInterface)
}

func newInterfaceSignal(interval time.Duration, check func() bool) *InterfaceSignal {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &InterfaceSignal{
		interval: interval,
		check:    check,
		logger:   util.ComponentLogger("connectivity"),
		online:   check(),
	}
}

// Online returns the last polled reading
func (s *InterfaceSignal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe registers fn for online/offline transitions
func (s *InterfaceSignal) Subscribe(fn func(online bool)) func() {
	return s.subs.add(fn)
}

// Run polls until ctx is cancelled
func (s *InterfaceSignal) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *InterfaceSignal) poll() {
	online := s.check()

	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.logger.Info("Network interface state changed", zap.Bool("online", online))
		s.subs.notify(online)
	}
}

func hasUsableInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

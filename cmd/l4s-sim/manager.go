// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/transport/v3/vnet"
)

const (
	initCapacity = 1 * vnet.MBit
	initMaxBurst = 80 * vnet.KBit

	// The token bucket filters model the backhaul. They run faster than the
	// radio bottleneck so the marker queue is the one that builds up.
	backhaulHeadroom = 2

	hostsPerRouter = 8
)

var (
	errNoIPAvailable  = errors.New("no IP available")
	errInvalidAckLoss = errors.New("ackLossRate must be between 0 and 100")
	errInvalidDelay   = errors.New("base delay must be non-negative")
	errManagerClosed  = errors.New("network manager is closed")
	errUnexpectedAddr = errors.New("unexpected local address")
)

// Host is a virtual host behind one of the NAT routers.
type Host struct {
	Net       *vnet.Net
	PrivateIP string
	PublicIP  string
}

// Listen opens a UDP socket on the host and returns it together with the
// address peers outside the router must use to reach it.
func (h Host) Listen() (net.PacketConn, *net.UDPAddr, error) {
	conn, err := h.Net.ListenPacket("udp4", net.JoinHostPort(h.PrivateIP, "0"))
	if err != nil {
		return nil, nil, err
	}
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("%w: %v", errUnexpectedAddr, conn.LocalAddr())
	}

	return conn, &net.UDPAddr{IP: net.ParseIP(h.PublicIP), Port: local.Port}, nil
}

// RouterWithConfig keeps a router together with the config it was built from
// and tracks which of its 1:1 NAT mappings are taken.
type RouterWithConfig struct {
	*vnet.RouterConfig
	*vnet.Router
	usedIPs map[string]bool
}

func newRouterWithConfig(config *vnet.RouterConfig) (*RouterWithConfig, error) {
	router, err := vnet.NewRouter(config)
	if err != nil {
		return nil, err
	}

	return &RouterWithConfig{
		RouterConfig: config,
		Router:       router,
		usedIPs:      make(map[string]bool),
	}, nil
}

func (r *RouterWithConfig) getIPMapping() (private, public string, err error) {
	for _, mapping := range r.StaticIPs {
		if r.usedIPs[mapping] {
			continue
		}
		r.usedIPs[mapping] = true
		ips := strings.Split(mapping, "/")

		return ips[1], ips[0], nil
	}

	return "", "", fmt.Errorf("%w on %v", errNoIPAvailable, r.Name)
}

func (r *RouterWithConfig) newHost() (Host, error) {
	privateIP, publicIP, err := r.getIPMapping()
	if err != nil {
		return Host{}, err
	}
	n, err := vnet.NewNet(&vnet.NetConfig{
		StaticIPs: []string{privateIP},
	})
	if err != nil {
		return Host{}, err
	}
	if err = r.AddNet(n); err != nil {
		return Host{}, err
	}

	return Host{Net: n, PrivateIP: privateIP, PublicIP: publicIP}, nil
}

// ManagerOption configures a NetworkManager.
type ManagerOption func(*managerConfig) error

type managerConfig struct {
	loggerFactory logging.LoggerFactory
	baseDelay     time.Duration
}

// ManagerLoggerFactory sets the logger factory handed to every router.
func ManagerLoggerFactory(lf logging.LoggerFactory) ManagerOption {
	return func(c *managerConfig) error {
		c.loggerFactory = lf

		return nil
	}
}

// BaseDelay adds a fixed one-way delay to every chunk crossing the WAN.
func BaseDelay(d time.Duration) ManagerOption {
	return func(c *managerConfig) error {
		if d < 0 {
			return errInvalidDelay
		}
		c.baseDelay = d

		return nil
	}
}

// NetworkManager builds the simulated topology:
//
//	left (remote hosts) --+
//	                      +-- wan --- core (gNB marker)
//	right (UEs) ----------+
//
// Each side router uses 1:1 NAT. Traffic entering the left and right routers
// passes a token bucket filter.
type NetworkManager struct {
	wan         *vnet.Router
	leftRouter  *RouterWithConfig
	leftTBF     *vnet.TokenBucketFilter
	coreRouter  *RouterWithConfig
	rightRouter *RouterWithConfig
	rightTBF    *vnet.TokenBucketFilter

	leftSubnet  *net.IPNet
	rand        randutil.MathRandomGenerator
	mu          sync.Mutex
	ackLossRate int
	closed      bool
}

// NewManager creates and starts the topology.
func NewManager(opts ...ManagerOption) (*NetworkManager, error) {
	config := &managerConfig{loggerFactory: logging.NewDefaultLoggerFactory()}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		Name:          "wan",
		CIDR:          "0.0.0.0/0",
		MinDelay:      config.baseDelay,
		LoggerFactory: config.loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	manager := &NetworkManager{
		wan:  wan,
		rand: randutil.NewMathRandomGenerator(),
	}

	manager.leftRouter, err = newRouterWithConfig(natRouterConfig("left", 1, config.loggerFactory))
	if err != nil {
		return nil, err
	}
	manager.leftTBF, err = addShapedRouter(wan, manager.leftRouter)
	if err != nil {
		return nil, err
	}
	_, manager.leftSubnet, err = net.ParseCIDR(manager.leftRouter.CIDR)
	if err != nil {
		return nil, err
	}
	manager.leftRouter.AddChunkFilter(manager.filterAcks)

	manager.rightRouter, err = newRouterWithConfig(natRouterConfig("right", 2, config.loggerFactory))
	if err != nil {
		return nil, err
	}
	manager.rightTBF, err = addShapedRouter(wan, manager.rightRouter)
	if err != nil {
		return nil, err
	}

	manager.coreRouter, err = newRouterWithConfig(natRouterConfig("core", 3, config.loggerFactory))
	if err != nil {
		return nil, err
	}
	if err = wan.AddNet(manager.coreRouter.Router); err != nil {
		return nil, err
	}
	if err = wan.AddChildRouter(manager.coreRouter.Router); err != nil {
		return nil, err
	}

	if err = wan.Start(); err != nil {
		return nil, err
	}

	return manager, nil
}

func natRouterConfig(name string, subnet int, lf logging.LoggerFactory) *vnet.RouterConfig {
	staticIPs := make([]string, 0, hostsPerRouter)
	for i := 1; i <= hostsPerRouter; i++ {
		staticIPs = append(staticIPs, fmt.Sprintf("10.0.%d.%d/10.0.%d.%d", subnet, i, subnet, 100+i))
	}

	return &vnet.RouterConfig{
		Name:          name,
		CIDR:          fmt.Sprintf("10.0.%d.0/24", subnet),
		StaticIPs:     staticIPs,
		LoggerFactory: lf,
		NATType: &vnet.NATType{
			Mode: vnet.NATModeNAT1To1,
		},
	}
}

func addShapedRouter(wan *vnet.Router, router *RouterWithConfig) (*vnet.TokenBucketFilter, error) {
	tbf, err := vnet.NewTokenBucketFilter(
		router.Router,
		vnet.TBFRate(backhaulHeadroom*initCapacity),
		vnet.TBFMaxBurst(initMaxBurst),
	)
	if err != nil {
		return nil, err
	}
	if err = wan.AddNet(tbf); err != nil {
		return nil, err
	}
	if err = wan.AddChildRouter(router.Router); err != nil {
		return nil, err
	}

	return tbf, nil
}

// filterAcks drops feedback travelling towards the remote hosts at the
// configured ack loss rate. Data leaving the left subnet always passes.
func (m *NetworkManager) filterAcks(c vnet.Chunk) bool {
	src, ok := c.SourceAddr().(*net.UDPAddr)
	if !ok {
		return true
	}
	if m.leftSubnet.Contains(src.IP) {
		return true
	}

	m.mu.Lock()
	rate := m.ackLossRate
	m.mu.Unlock()

	return rate == 0 || m.rand.Intn(100) >= rate
}

// GetLeftNet attaches a new remote host to the left router.
func (m *NetworkManager) GetLeftNet() (Host, error) {
	return m.getNet(m.leftRouter)
}

// GetCoreNet attaches a new host to the core router.
func (m *NetworkManager) GetCoreNet() (Host, error) {
	return m.getNet(m.coreRouter)
}

// GetRightNet attaches a new UE to the right router.
func (m *NetworkManager) GetRightNet() (Host, error) {
	return m.getNet(m.rightRouter)
}

func (m *NetworkManager) getNet(router *RouterWithConfig) (Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Host{}, errManagerClosed
	}

	return router.newHost()
}

// SetCapacity sets the backhaul token bucket filters relative to the radio
// capacity in bits per second. It may run while traffic flows: the filters
// read their rate under their own lock since transport v3.1.1, earlier
// releases race with the refill loop.
func (m *NetworkManager) SetCapacity(capacity, maxBurst int) {
	m.leftTBF.Set(vnet.TBFRate(backhaulHeadroom*capacity), vnet.TBFMaxBurst(maxBurst))
	m.rightTBF.Set(vnet.TBFRate(backhaulHeadroom*capacity), vnet.TBFMaxBurst(maxBurst))
}

// SetAckLossRate sets the percentage of feedback chunks dropped on the way
// back to the remote hosts.
func (m *NetworkManager) SetAckLossRate(percent int) error {
	if percent < 0 || percent > 100 {
		return errInvalidAckLoss
	}
	m.mu.Lock()
	m.ackLossRate = percent
	m.mu.Unlock()

	return nil
}

// Close stops every router and filter.
func (m *NetworkManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return errors.Join(
		m.wan.Stop(),
		m.leftTBF.Close(),
		m.rightTBF.Close(),
	)
}

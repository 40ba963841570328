// Package wifi owns the connectivity state machine: joining a saved network
// in the foreground at boot, falling back to a local hotspot, and retrying
// the saved network in the background while the hotspot stays responsive.
package wifi

import (
	"log/slog"
	"time"

	"inverterzone/gateway/credential"
)

// State enumerates the connectivity FSM.
type State uint8

const (
	StateIdle State = iota
	StateConnectingForeground
	StateConnectingBackground
	StateConnected
	StateHotspotActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnectingForeground:
		return "connecting"
	case StateConnectingBackground:
		return "connecting-bg"
	case StateConnected:
		return "connected"
	case StateHotspotActive:
		return "hotspot"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Connection deadlines and retry backoffs. The foreground window is generous;
// background windows stay short so the hotspot remains responsive.
const (
	foregroundTimeout = 20 * time.Second
	backgroundTimeout = 5 * time.Second

	retryAfterForegroundFail = 8 * time.Second
	retryAfterBackgroundFail = 9 * time.Second
	retryAfterLinkLoss       = 2 * time.Second
	retryWhileHotspot        = 10 * time.Second
)

// RSSIUnknown is reported while the client link is down.
const RSSIUnknown = -999

// Radio abstracts the dual-role wireless hardware. All calls must be
// non-blocking or internally bounded.
type Radio interface {
	// Client (station) role.
	Connect(ssid, password string) error
	Disconnect()
	Associated() bool
	ClientIP() string
	RSSI() (int, bool)
	// Reset power-cycles the client radio. Never called while the hotspot
	// is up: a dual-role radio reset would drop hotspot clients.
	Reset()

	// Hotspot (access point) role.
	HotspotStart(ssid string, channel uint8) error
	HotspotStop()
	HotspotActive() bool
	HotspotIP() string
}

// Config carries the manager's wiring.
type Config struct {
	HotspotSSID string
	Channel     uint8
	// OnHotspotUp runs after every hotspot (re)start. The HTTP listener
	// must rebind here: the interface change invalidates the old socket.
	OnHotspotUp func()
	// OnConnected runs once per transition into StateConnected.
	OnConnected func()
}

// Manager drives the Radio from the scheduler tick. Single-writer: only the
// deferred tick worker mutates it.
type Manager struct {
	radio Radio
	log   *slog.Logger
	cfg   Config

	state    State
	deadline time.Time
	retryAt  time.Time

	rssi    int
	hasRSSI bool

	cred     credential.Record
	haveCred bool
}

// New returns an idle manager.
func New(radio Radio, logger *slog.Logger, cfg Config) *Manager {
	return &Manager{radio: radio, log: logger, cfg: cfg, state: StateIdle}
}

// State returns the current FSM state.
func (m *Manager) State() State { return m.state }

// LinkUp reports whether the client link is associated.
func (m *Manager) LinkUp() bool { return m.radio.Associated() }

// HotspotUp reports whether the hotspot interface is serving. True across
// background retries, which keep the hotspot alive while the FSM is in a
// connecting state.
func (m *Manager) HotspotUp() bool { return m.radio.HotspotActive() }

// RSSI returns the last sampled signal strength, RSSIUnknown when down.
func (m *Manager) RSSI() int {
	if !m.hasRSSI {
		return RSSIUnknown
	}
	return m.rssi
}

// IP returns the reachable address: the client IP when associated, the
// hotspot IP when the hotspot carries traffic, "--" otherwise.
func (m *Manager) IP() string {
	if m.radio.Associated() {
		return m.radio.ClientIP()
	}
	if m.radio.HotspotActive() {
		return m.radio.HotspotIP()
	}
	return "--"
}

// Start boots the FSM: foreground connect when a credential exists,
// otherwise straight to the hotspot.
func (m *Manager) Start(now time.Time, cred credential.Record, haveCred bool) {
	m.cred, m.haveCred = cred, haveCred
	if haveCred {
		m.startForeground(now)
	} else {
		m.startHotspot(now, false)
	}
}

// SetCredential installs a fresh credential (from /wifisave) and kicks off a
// background attempt without disturbing the hotspot.
func (m *Manager) SetCredential(now time.Time, cred credential.Record) {
	m.cred, m.haveCred = cred, true
	m.startBackground(now)
}

// ClearCredential drops the credential (reset button), tears the client
// link down and forces hotspot mode.
func (m *Manager) ClearCredential(now time.Time) {
	m.cred, m.haveCred = credential.Record{}, false
	if m.radio.Associated() {
		m.radio.Disconnect()
	}
	m.startHotspot(now, false)
}

// Watchdog keeps the hotspot up whenever the client is not connected.
func (m *Manager) Watchdog(now time.Time) {
	if !m.radio.Associated() && !m.radio.HotspotActive() {
		m.startHotspot(now, m.state == StateConnectingForeground)
	}
}

// Step advances the FSM one tick.
func (m *Manager) Step(now time.Time) {
	m.sampleRSSI()

	switch m.state {
	case StateConnectingForeground:
		if m.radio.Associated() {
			m.becomeConnected()
		} else if !now.Before(m.deadline) {
			m.log.Warn("wifi:connect-timeout")
			m.startHotspot(now, false)
			m.retryAt = now.Add(retryAfterForegroundFail)
		}

	case StateConnectingBackground:
		if m.radio.Associated() {
			m.becomeConnected()
		} else if !now.Before(m.deadline) {
			m.radio.Disconnect()
			m.state = StateHotspotActive
			m.retryAt = now.Add(retryAfterBackgroundFail)
		}

	case StateConnected:
		if !m.radio.Associated() {
			m.log.Warn("wifi:link-lost")
			m.startHotspot(now, false)
			m.retryAt = now.Add(retryAfterLinkLoss)
		}
	}

	// Background retry while the hotspot carries the provisioning surface.
	// startBackground schedules the next attempt itself.
	if (m.state == StateHotspotActive || m.state == StateFailed) &&
		!m.radio.Associated() && m.haveCred && !now.Before(m.retryAt) {
		m.startBackground(now)
	}
}

func (m *Manager) sampleRSSI() {
	if m.radio.Associated() {
		if v, ok := m.radio.RSSI(); ok {
			m.rssi, m.hasRSSI = v, true
			return
		}
	}
	m.hasRSSI = false
}

func (m *Manager) becomeConnected() {
	m.state = StateConnected
	if m.radio.HotspotActive() {
		m.radio.HotspotStop()
		m.log.Info("wifi:hotspot-stopped")
	}
	m.log.Info("wifi:connected", slog.String("ip", m.radio.ClientIP()))
	if m.cfg.OnConnected != nil {
		m.cfg.OnConnected()
	}
}

func (m *Manager) startForeground(now time.Time) {
	m.radio.HotspotStop()
	if !m.radio.HotspotActive() {
		m.radio.Reset()
	}
	if err := m.radio.Connect(m.cred.SSID, m.cred.Password); err != nil {
		m.log.Error("wifi:connect-failed", slog.String("err", err.Error()))
		m.startHotspot(now, false)
		return
	}
	m.state = StateConnectingForeground
	m.deadline = now.Add(foregroundTimeout)
	m.log.Info("wifi:connecting", slog.String("ssid", m.cred.SSID))
}

func (m *Manager) startBackground(now time.Time) {
	if m.state == StateConnectingForeground || m.state == StateConnectingBackground {
		return
	}
	if !m.haveCred {
		return
	}
	// No radio reset here: the hotspot shares the radio and must keep
	// serving its clients.
	if err := m.radio.Connect(m.cred.SSID, m.cred.Password); err != nil {
		// An attempt that never started backs off like a foreground
		// failure; the longer window is for attempts that timed out.
		m.log.Error("wifi:bg-connect-failed", slog.String("err", err.Error()))
		m.retryAt = now.Add(retryAfterForegroundFail)
		m.state = StateHotspotActive
		return
	}
	m.state = StateConnectingBackground
	m.deadline = now.Add(backgroundTimeout)
	m.retryAt = now.Add(retryWhileHotspot)
	m.log.Info("wifi:connecting-bg", slog.String("ssid", m.cred.SSID))
}

func (m *Manager) startHotspot(now time.Time, soft bool) {
	if err := m.radio.HotspotStart(m.cfg.HotspotSSID, m.cfg.Channel); err != nil {
		m.log.Error("wifi:hotspot-failed", slog.String("err", err.Error()))
		if !soft {
			m.state = StateFailed
		}
		return
	}
	if !soft {
		m.state = StateHotspotActive
	}
	if m.cfg.OnHotspotUp != nil {
		m.cfg.OnHotspotUp()
	}
	m.log.Info("wifi:hotspot",
		slog.String("ssid", m.cfg.HotspotSSID),
		slog.String("ip", m.radio.HotspotIP()),
	)
}

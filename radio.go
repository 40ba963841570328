//go:build tinygo

package main

import (
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/cyw43439/examples/cywnet"
)

// hotspotAddr is the gateway's own address while serving the provisioning
// hotspot.
var hotspotAddr = netip.AddrFrom4([4]byte{192, 168, 4, 1})

// picoRadio adapts the CYW43439 driver and its TCP/IP stack to the
// connectivity manager. Everything hardware-specific lives here; the rest of
// the firmware sees interfaces.
type picoRadio struct {
	cystack *cywnet.Stack
	dev     *cyw43439.Device
	log     *slog.Logger

	mac        [6]byte
	associated bool
	apUp       bool
	clientIP   netip.Addr

	// leaseGen identifies the join attempt the lease goroutine is serving.
	// Connect and Disconnect bump it, so a goroutine left over from an
	// abandoned attempt never commits its result.
	leaseGen  atomic.Uint32
	leaseBusy atomic.Bool
}

func newPicoRadio(devcfg cyw43439.WifiConfig, hostname string, logger *slog.Logger) (*picoRadio, error) {
	cystack, err := cywnet.NewPicoWithStack(devcfg, cywnet.StackConfig{
		Hostname:    hostname,
		MaxTCPPorts: 2, // HTTP + MQTT
	})
	if err != nil {
		return nil, err
	}
	r := &picoRadio{
		cystack: cystack,
		dev:     cystack.Device(),
		log:     logger,
	}
	r.mac, err = r.dev.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// loopStack processes network packets in the background.
func (r *picoRadio) loopStack() {
	for {
		send, recv, _ := r.cystack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(pollTime)
		}
	}
}

// MACHex returns the MAC as 12 lowercase hex characters.
func (r *picoRadio) MACHex() string { return macHex(r.mac, "0123456789abcdef") }

// MACHexUpper returns the MAC as 12 uppercase hex characters.
func (r *picoRadio) MACHexUpper() string { return macHex(r.mac, "0123456789ABCDEF") }

func macHex(mac [6]byte, digits string) string {
	var buf [12]byte
	for i, b := range mac {
		buf[i*2] = digits[b>>4]
		buf[i*2+1] = digits[b&0xf]
	}
	return string(buf[:])
}

func (r *picoRadio) Connect(ssid, password string) error {
	if err := r.dev.JoinWPA2(ssid, password); err != nil {
		return err
	}
	// The join is asynchronous; DHCP runs once the link reports up. The
	// manager polls Associated, so DHCP runs off the tick worker. At most
	// one lease goroutine exists at a time: a retry while one is already
	// waiting just redirects it to the new attempt via the generation.
	gen := r.leaseGen.Add(1)
	if r.leaseBusy.CompareAndSwap(false, true) {
		go r.acquireLease(gen)
	}
	return nil
}

func (r *picoRadio) acquireLease(gen uint32) {
	defer r.leaseBusy.Store(false)
	for {
		for i := 0; i < 200 && !r.dev.IsLinkUp(); i++ {
			if r.leaseGen.Load() != gen {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if g := r.leaseGen.Load(); g != gen {
			// A newer join attempt superseded this one; serve it instead.
			gen = g
			continue
		}
		if !r.dev.IsLinkUp() {
			return
		}
		results, err := r.cystack.SetupWithDHCP(cywnet.DHCPConfig{})
		if r.leaseGen.Load() != gen {
			// The attempt was abandoned mid-handshake; its lease is stale.
			gen = r.leaseGen.Load()
			continue
		}
		if err != nil {
			r.log.Error("wifi:dhcp-failed", slog.String("err", err.Error()))
			return
		}
		r.clientIP = results.AssignedAddr
		r.associated = true
		r.log.Info("wifi:dhcp-complete", slog.String("addr", results.AssignedAddr.String()))
		return
	}
}

func (r *picoRadio) Disconnect() {
	r.leaseGen.Add(1) // invalidate any lease still being acquired
	r.associated = false
	r.dev.Disconnect()
}

func (r *picoRadio) Associated() bool {
	return r.associated && r.dev.IsLinkUp()
}

func (r *picoRadio) ClientIP() string {
	if !r.clientIP.IsValid() {
		return ""
	}
	return r.clientIP.String()
}

func (r *picoRadio) RSSI() (int, bool) {
	rssi, err := r.dev.RSSI()
	if err != nil {
		return 0, false
	}
	return int(rssi), true
}

func (r *picoRadio) Reset() {
	r.leaseGen.Add(1)
	r.associated = false
	r.dev.Reset()
}

func (r *picoRadio) HotspotStart(ssid string, channel uint8) error {
	if r.apUp {
		return nil
	}
	if err := r.dev.StartAP(ssid, "", channel); err != nil {
		return err
	}
	r.cystack.SetAddr(hotspotAddr)
	r.apUp = true
	return nil
}

func (r *picoRadio) HotspotStop() {
	if !r.apUp {
		return
	}
	r.dev.StopAP()
	r.apUp = false
}

func (r *picoRadio) HotspotActive() bool { return r.apUp }

func (r *picoRadio) HotspotIP() string {
	if !r.apUp {
		return ""
	}
	return hotspotAddr.String()
}

// Package gateway is the conductor: one Pass runs every subsystem's next
// increment in a fixed order, from a single worker goroutine, so no state in
// the system ever needs a lock.
package gateway

import (
	"log/slog"
	"time"

	"inverterzone/gateway/broker"
	"inverterzone/gateway/credential"
	"inverterzone/gateway/httpd"
	"inverterzone/gateway/inverter"
	"inverterzone/gateway/report"
	"inverterzone/gateway/wifi"
)

const (
	// customDeadline bounds how long a control command waits for its
	// answer before being discarded.
	customDeadline = 5 * time.Second

	ledHotspotSolid = true
	ledWifiPeriod   = 200 * time.Millisecond
	ledMQTTPeriod   = 2000 * time.Millisecond
)

// Button is the factory-reset input, active while held.
type Button interface {
	Pressed() bool
}

// LED is the status indicator output.
type LED interface {
	Set(on bool)
}

// MemStats samples allocator health for the telemetry document.
type MemStats func() (freeHeap uint64, fragPct int)

// Config wires the gateway's collaborators and timings.
type Config struct {
	DeviceName string // MAC in hex, doubles as the broker client id
	DeviceType string

	PublishInterval time.Duration
	StatusInterval  time.Duration
	SerialInterval  time.Duration

	Mem MemStats
}

// Gateway owns the per-tick pass over all subsystems.
type Gateway struct {
	log *slog.Logger
	cfg Config

	engine  *inverter.Engine
	wifiMgr *wifi.Manager
	httpSrv *httpd.Server
	session *broker.Session
	creds   credential.Store
	button  Button
	led     LED

	lastNow       time.Time
	lastSerialAt  time.Time
	lastPublishAt time.Time
	lastStatusAt  time.Time
	buttonWasDown bool

	jsonBuf [report.MaxSize]byte
}

// New assembles a gateway. The session's command callback and the HTTP
// server's credential/JSON hooks are wired here; callers only construct the
// parts.
func New(
	logger *slog.Logger,
	cfg Config,
	engine *inverter.Engine,
	wifiMgr *wifi.Manager,
	httpSrv *httpd.Server,
	session *broker.Session,
	creds credential.Store,
	button Button,
	led LED,
) *Gateway {
	g := &Gateway{
		log:     logger,
		cfg:     cfg,
		engine:  engine,
		wifiMgr: wifiMgr,
		httpSrv: httpSrv,
		session: session,
		creds:   creds,
		button:  button,
		led:     led,
	}
	httpSrv.BuildJSON = g.BuildJSON
	httpSrv.SaveCredential = g.saveCredential
	return g
}

// HandleCommand is the control-topic entry point: the payload is the raw
// wire command to run out of band. Wire it as the session's OnCommand.
func (g *Gateway) HandleCommand(payload string) {
	if !g.engine.SubmitCustom("ANSWER", payload, g.lastNow) {
		g.log.Warn("gateway:command-dropped", slog.String("cmd", payload))
	}
}

// BuildJSON renders the telemetry document into buf, shared by /livejson and
// the data-topic publish.
func (g *Gateway) BuildJSON(buf []byte) int {
	d := report.Diagnostics{
		DeviceName: g.cfg.DeviceName,
		RSSI:       g.wifiMgr.RSSI(),
		DeviceType: g.cfg.DeviceType,
	}
	if g.cfg.Mem != nil {
		d.FreeHeap, d.HeapFragPct = g.cfg.Mem()
	}
	if c := g.engine.Custom(); c != nil && c.Done {
		d.Answer = c.Answer
	}
	return report.Build(buf, d, &g.engine.Device, &g.engine.Live, g.engine.KeepCommandKeys)
}

func (g *Gateway) saveCredential(rec credential.Record) error {
	if err := g.creds.Save(rec); err != nil {
		return err
	}
	g.wifiMgr.SetCredential(g.lastNow, rec)
	return nil
}

// Pass runs one increment of every subsystem. Order is fixed: inputs first,
// then connectivity, then the serial cycle, then outputs.
func (g *Gateway) Pass(now time.Time) {
	g.lastNow = now

	g.pollButton(now)

	g.httpSrv.Step()

	g.wifiMgr.Watchdog(now)
	g.wifiMgr.Step(now)

	g.driveLED(now)

	if g.cfg.SerialInterval <= 0 || now.Sub(g.lastSerialAt) >= g.cfg.SerialInterval {
		if g.engine.Step(now) {
			g.lastSerialAt = now
		}
	}

	g.flushCustom(now)

	g.session.Step(now, g.wifiMgr.LinkUp())

	g.logStatus(now)
	g.publishIfDue(now)
}

// pollButton clears the stored credential on a fresh button press. Holding
// the button fires once, not every tick.
func (g *Gateway) pollButton(now time.Time) {
	if g.button == nil {
		return
	}
	down := g.button.Pressed()
	if down && !g.buttonWasDown {
		g.log.Info("gateway:credential-reset")
		g.creds.Clear()
		g.wifiMgr.ClearCredential(now)
	}
	g.buttonWasDown = down
}

// driveLED renders the connectivity state: solid while the hotspot interface
// is serving and the client link is down (background retries included), fast
// blink with only WiFi, slow blink with the broker session established, off
// otherwise.
func (g *Gateway) driveLED(now time.Time) {
	if g.led == nil {
		return
	}
	switch {
	case g.wifiMgr.HotspotUp() && !g.wifiMgr.LinkUp():
		g.led.Set(ledHotspotSolid)
	case g.session.Connected():
		g.led.Set(blinkPhase(now, ledMQTTPeriod))
	case g.wifiMgr.LinkUp():
		g.led.Set(blinkPhase(now, ledWifiPeriod))
	default:
		g.led.Set(false)
	}
}

func blinkPhase(now time.Time, period time.Duration) bool {
	return (now.UnixMilli()/period.Milliseconds())%2 == 0
}

// flushCustom publishes a completed control-command answer, or expires a
// request the inverter never answered. Either way the slot is freed so the
// next command can be accepted.
func (g *Gateway) flushCustom(now time.Time) {
	c := g.engine.Custom()
	if c == nil {
		return
	}
	if c.Done {
		n := g.BuildJSON(g.jsonBuf[:])
		if g.session.Publish(now, g.session.DataTopic(), g.jsonBuf[:n], false) {
			g.log.Info("gateway:answer-published", slog.String("cmd", c.Wire))
			g.engine.ClearCustom()
			return
		}
		// Session down: hold the answer until the deadline passes.
	}
	if now.Sub(c.IssuedAt) > customDeadline {
		g.log.Warn("gateway:command-expired", slog.String("cmd", c.Wire))
		g.engine.ClearCustom()
	}
}

func (g *Gateway) logStatus(now time.Time) {
	if g.cfg.StatusInterval <= 0 || now.Sub(g.lastStatusAt) < g.cfg.StatusInterval {
		return
	}
	g.lastStatusAt = now
	g.log.Info("gateway:status",
		slog.String("wifi", g.wifiMgr.State().String()),
		slog.String("ip", g.wifiMgr.IP()),
		slog.Int("rssi", g.wifiMgr.RSSI()),
		slog.Bool("mqtt", g.session.Connected()),
		slog.String("protocol", g.engine.Protocol.String()),
		slog.Bool("inverter", g.engine.Connected()),
	)
}

// publishIfDue sends the presence topics and the telemetry document. Alive
// and IP are retained so late subscribers see the device immediately.
func (g *Gateway) publishIfDue(now time.Time) {
	if g.cfg.PublishInterval <= 0 || now.Sub(g.lastPublishAt) < g.cfg.PublishInterval {
		return
	}
	if !g.session.Connected() {
		return
	}
	g.lastPublishAt = now

	g.session.Publish(now, g.session.AliveTopic(), []byte("true"), true)
	g.session.Publish(now, g.session.IPTopic(), []byte(g.wifiMgr.IP()), true)

	n := g.BuildJSON(g.jsonBuf[:])
	if g.session.Publish(now, g.session.DataTopic(), g.jsonBuf[:n], false) {
		g.log.Debug("gateway:published", slog.Int("bytes", n))
	}
}

// Run services the mailbox until the process ends. Timer callbacks post,
// this worker passes; the deferred-work split keeps interrupt-context
// callers from ever touching subsystem state.
func (g *Gateway) Run(mb *Mailbox) {
	for {
		mb.Wait()
		g.Pass(time.Now())
		mb.Done()
	}
}

//go:build tinygo

package main

// WARNING: default -scheduler=cores unsupported, compile with -scheduler=tasks set!

import (
	"log/slog"
	"machine"
	"runtime"
	"time"

	"inverterzone/gateway/broker"
	"inverterzone/gateway/config"
	"inverterzone/gateway/credential"
	"inverterzone/gateway/gateway"
	"inverterzone/gateway/httpd"
	"inverterzone/gateway/inverter"
	"inverterzone/gateway/version"
	"inverterzone/gateway/wifi"

	"github.com/soypat/cyw43439"
)

const pollTime = 5 * time.Millisecond

// Pin assignments.
const (
	resetButtonPin = machine.GP15 // hold to clear the stored WiFi credential
	safeModePin    = machine.GP14 // hold at boot to skip all networking
	statusLEDPin   = machine.LED

	uartTXPin = machine.GP0
	uartRXPin = machine.GP1
)

func fatalError(msg string) {
	println(msg)
	// The watchdog stops being fed here; it resets the device.
	for {
		time.Sleep(time.Second)
	}
}

func main() {
	time.Sleep(2 * time.Second) // Give time to connect to USB and monitor output.
	println("========================================")
	println("  Inverterzone Gateway")
	println("  Version:", version.Version)
	println("  Git SHA:", version.GitSHA)
	println("  Built:  ", version.BuildDate)
	println("========================================")

	safePin := safeModePin
	safePin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	if !safePin.Get() {
		// Pulled low at boot: a bad image can always be reflashed over USB.
		safeModeLoop()
	}

	// Application logger (debug level for our code).
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Network stack logger: the driver logs dropped packets at ERROR, which
	// is normal on WiFi, so everything below level 12 is suppressed.
	netLogger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.Level(12),
	}))

	machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: 8000,
	})
	machine.Watchdog.Start()
	logger.Info("init:watchdog-started")

	brokerAddr, err := config.BrokerAddr()
	if err != nil {
		logger.Error("config:broker-invalid", slog.String("err", err.Error()))
		fatalError("Invalid broker address - waiting for reset...")
	}
	logger.Info("config:broker", slog.String("addr", brokerAddr.String()))

	// Radio and network stack.
	devcfg := cyw43439.DefaultWifiConfig()
	devcfg.Logger = netLogger
	radio, err := newPicoRadio(devcfg, config.Hostname(), netLogger)
	if err != nil {
		logger.Error("wifi:setup-failed", slog.String("err", err.Error()))
		fatalError("WiFi setup failed - waiting for reset...")
	}
	go radio.loopStack()

	mac := radio.MACHex()
	hotspotSSID := "Solar_" + radio.MACHexUpper()
	logger.Info("init:identity",
		slog.String("mac", mac),
		slog.String("hotspot", hotspotSSID),
	)

	// Serial link to the inverter.
	port, err := newUARTPort(machine.UART0, uartTXPin, uartRXPin, config.SerialBaud())
	if err != nil {
		logger.Error("serial:setup-failed", slog.String("err", err.Error()))
		fatalError("UART setup failed - waiting for reset...")
	}

	// Stored WiFi credential.
	creds := newFlashStore()
	rec, haveCred := creds.Load()

	engine := inverter.New(port, logger, config.DefaultSerialTimeout)

	httpSrv := httpd.New(radio.HTTPListener(), logger)

	client := broker.NewNatiuClient(radio.MQTTDialer(brokerAddr), logger)

	var gw *gateway.Gateway
	session := broker.New(client, logger, broker.Config{
		ClientID:  mac,
		TopicBase: config.TopicBase(),
		OnCommand: func(p string) { gw.HandleCommand(p) },
	})
	client.OnMessage = session.HandleMessage

	wifiMgr := wifi.New(radio, logger, wifi.Config{
		HotspotSSID: hotspotSSID,
		Channel:     config.APChannel(),
		OnHotspotUp: httpSrv.Rebind,
		OnConnected: session.RequestReconnect,
	})

	button := newPinButton(resetButtonPin)
	led := newPinLED(statusLEDPin)

	gw = gateway.New(logger, gateway.Config{
		DeviceName:      mac,
		DeviceType:      config.DefaultDeviceType,
		PublishInterval: config.PublishInterval(),
		StatusInterval:  config.DefaultStatusInterval,
		SerialInterval:  config.SerialInterval(),
		Mem:             memStats,
	}, engine, wifiMgr, httpSrv, session, creds, button, led)

	// The tick loop feeds the watchdog, so it must be running before the
	// detection probe: with no inverter attached Detect blocks past the
	// watchdog window. The worker isn't servicing the mailbox yet, dropped
	// posts are fine.
	mb := gateway.NewMailbox()
	go tickLoop(mb)

	// Probe the inverter before the first cycle so the right command
	// tables are active from the start.
	engine.Detect()

	wifiMgr.Start(time.Now(), rec, haveCred)

	logger.Info("init:complete")

	gw.Run(mb)
}

// tickLoop posts the scheduler tick. Dropped posts are fine: the worker was
// still busy with the previous pass.
func tickLoop(mb *gateway.Mailbox) {
	for {
		time.Sleep(config.DefaultTickInterval)
		machine.Watchdog.Update()
		mb.Post()
	}
}

// safeModeLoop keeps the device alive with networking and the serial cycle
// disabled, so a misbehaving build can be reflashed.
func safeModeLoop() {
	println("safe mode: networking disabled, awaiting reflash")
	led := statusLEDPin
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}

// memStats samples the allocator for the telemetry document.
func memStats() (uint64, int) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	free := ms.HeapSys - ms.HeapInuse
	frag := 0
	if ms.HeapSys > 0 {
		frag = int((ms.HeapIdle - ms.HeapReleased) * 100 / ms.HeapSys)
	}
	return free, frag
}

type pinButton struct{ pin machine.Pin }

func newPinButton(pin machine.Pin) *pinButton {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &pinButton{pin: pin}
}

// Pressed is active-low: the button shorts the pin to ground.
func (b *pinButton) Pressed() bool { return !b.pin.Get() }

type pinLED struct{ pin machine.Pin }

func newPinLED(pin machine.Pin) *pinLED {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &pinLED{pin: pin}
}

func (l *pinLED) Set(on bool) { l.pin.Set(on) }

// Package inverter implements the PI-series serial protocol engine: frame
// encoding with calibrated CRC-16/CCITT checksums, reply validation,
// protocol auto-detection and the static/dynamic query cycle feeding the
// device and live snapshots.
package inverter

import (
	"log/slog"
	"strings"
	"time"
)

const (
	// minStepInterval spaces consecutive commands regardless of how often
	// the scheduler calls Step.
	minStepInterval = 150 * time.Millisecond
	// writeSettle gives the UART time to shift the frame out before the
	// reply window opens.
	writeSettle = 30 * time.Millisecond
	// pollIdle is the wait between reply-byte polls.
	pollIdle = 2 * time.Millisecond

	detectAttempts = 3
	// degradedAfter is the consecutive-failure count at which the inverter
	// link is reported down.
	degradedAfter = 10

	replyBufMax = 512
	frameBufMax = 48
)

// Port is the byte-level serial interface the engine drives. ReadByte must
// not block: ok is false when no byte is pending.
type Port interface {
	Write(p []byte) (int, error)
	ReadByte() (b byte, ok bool)
}

// CustomCommand is an out-of-band wire command injected ahead of the normal
// cycle. At most one exists at a time; it stays visible until the owner
// clears it, so a second submission is rejected rather than queued.
type CustomCommand struct {
	Alias    string
	Wire     string
	IssuedAt time.Time
	Answer   string
	Done     bool // a validated answer arrived

	attempted bool
}

// Engine drives the inverter query cycle over a serial Port. It is not safe
// for concurrent use; the deferred tick worker is its only caller.
type Engine struct {
	port Port
	log  *slog.Logger

	// Protocol is the detected wire dialect; ProtocolUnknown runs the
	// default command tables.
	Protocol Protocol
	// KeepCommandKeys asks the JSON builder to also emit raw wire-command
	// keys for entries whose alias differs.
	KeepCommandKeys bool

	// Device holds identity/configuration replies (static sequence).
	Device Snapshot
	// Live holds telemetry replies (dynamic sequence).
	Live Snapshot

	timeout time.Duration

	staticSeq  []Command
	dynamicSeq []Command

	phaseStatic bool
	seqIndex    int
	lastStepAt  time.Time
	lastLiveAt  time.Time

	custom *CustomCommand

	okCount   int
	failCount int

	// Clock hooks, replaced in tests.
	now   func() time.Time
	sleep func(time.Duration)

	replyBuf [replyBufMax]byte
	frameBuf [frameBufMax]byte
}

// New returns an engine over port. replyTimeout bounds reply collection for
// a single command; values below 600ms are raised to it.
func New(port Port, logger *slog.Logger, replyTimeout time.Duration) *Engine {
	if replyTimeout < 600*time.Millisecond {
		replyTimeout = 600 * time.Millisecond
	}
	e := &Engine{
		port:            port,
		log:             logger,
		timeout:         replyTimeout,
		KeepCommandKeys: true,
		phaseStatic:     true,
		now:             time.Now,
		sleep:           time.Sleep,
	}
	e.applyCommands()
	return e
}

// Detect probes the attached inverter and locks in its protocol tables.
// Up to detectAttempts rounds try the PI30 identity query first, then the
// PI18 one; with no recognizable signature the default tables stay active
// under the unknown tag.
func (e *Engine) Detect() bool {
	for attempt := 0; attempt < detectAttempts; attempt++ {
		e.Protocol = ProtocolUnknown
		if payload, kind := e.exchange("QPI"); kind == ReplyOK {
			if sig := strings.TrimLeft(payload, "("); strings.HasPrefix(sig, "PI") {
				e.lockProtocol(ProtocolPI30)
				return true
			}
		}
		if payload, kind := e.exchange("^P005PI"); kind == ReplyOK {
			sig := strings.TrimLeft(strings.TrimLeft(payload, "^"), "D")
			if strings.HasPrefix(sig, "18") {
				e.lockProtocol(ProtocolPI18)
				return true
			}
		}
	}
	e.Protocol = ProtocolUnknown
	e.applyCommands()
	e.log.Warn("inverter:detect-failed")
	return false
}

func (e *Engine) lockProtocol(p Protocol) {
	e.Protocol = p
	e.applyCommands()
	e.log.Info("inverter:protocol-detected", slog.String("protocol", p.String()))
}

func (e *Engine) applyCommands() {
	set := e.Protocol.Commands()
	e.staticSeq = set.Static
	e.dynamicSeq = set.Dynamic
	e.restart()
}

func (e *Engine) restart() {
	e.phaseStatic = true
	e.seqIndex = 0
}

// SubmitCustom registers an out-of-band command. It reports false while a
// previous request is still outstanding (busy policy: drop, never queue).
func (e *Engine) SubmitCustom(alias, wire string, now time.Time) bool {
	if e.custom != nil {
		return false
	}
	e.custom = &CustomCommand{Alias: alias, Wire: wire, IssuedAt: now}
	e.log.Info("inverter:custom-queued", slog.String("cmd", wire))
	return true
}

// Custom returns the outstanding custom-command request, or nil.
func (e *Engine) Custom() *CustomCommand { return e.custom }

// ClearCustom discards the outstanding custom-command request.
func (e *Engine) ClearCustom() { e.custom = nil }

// Connected reports whether the inverter link is healthy: it goes false once
// consecutive-equivalent failures reach the degraded threshold.
func (e *Engine) Connected() bool { return e.failCount < degradedAfter }

// LastLiveAt returns when a dynamic field last updated.
func (e *Engine) LastLiveAt() time.Time { return e.lastLiveAt }

// Step issues at most one command: a pending custom command first, otherwise
// the next item of the active phase. It reports false when the inner
// throttle suppressed the step. Failed replies are skipped, never stored,
// and the sequence always advances.
func (e *Engine) Step(now time.Time) bool {
	if now.Sub(e.lastStepAt) < minStepInterval {
		return false
	}
	e.lastStepAt = now

	if c := e.custom; c != nil && !c.attempted {
		c.attempted = true
		payload, kind := e.exchange(c.Wire)
		if kind == ReplyOK {
			c.Answer = payload
			c.Done = true
			e.markOK()
			e.lastLiveAt = now
		} else {
			e.markFail()
			e.log.Warn("inverter:custom-failed", slog.String("kind", kind.String()))
		}
		// A custom exchange invalidates cycle position; start over.
		e.restart()
		return true
	}

	seq := e.dynamicSeq
	if e.phaseStatic {
		seq = e.staticSeq
	}
	if len(seq) == 0 {
		e.phaseStatic = !e.phaseStatic
		return true
	}

	cmd := seq[e.seqIndex]
	payload, kind := e.exchange(cmd.Wire)
	if kind == ReplyOK {
		if e.phaseStatic {
			e.Device.Set(cmd.Alias, cmd.Wire, payload)
		} else {
			e.Live.Set(cmd.Alias, cmd.Wire, payload)
			e.lastLiveAt = now
		}
		e.markOK()
	} else {
		e.markFail()
	}

	e.seqIndex++
	if e.seqIndex >= len(seq) {
		e.seqIndex = 0
		e.phaseStatic = !e.phaseStatic
	}
	return true
}

func (e *Engine) markOK() {
	e.okCount++
	if e.failCount > 0 {
		e.failCount--
	}
}

func (e *Engine) markFail() {
	e.failCount++
}

// exchange frames and sends cmd, then collects and classifies the reply.
func (e *Engine) exchange(cmd string) (string, ReplyKind) {
	frame := encodeFrame(e.frameBuf[:0], cmd)
	if _, err := e.port.Write(frame); err != nil {
		e.log.Debug("inverter:tx-failed", slog.String("err", err.Error()))
		return "", ReplyNAK
	}
	e.sleep(writeSettle)
	raw := e.readReply()
	payload, kind := classifyReply(raw)
	if kind != ReplyOK {
		e.log.Debug("inverter:reply-rejected",
			slog.String("cmd", cmd),
			slog.String("kind", kind.String()),
		)
	}
	return payload, kind
}

// readReply collects bytes until the frame terminator or the reply timeout.
func (e *Engine) readReply() []byte {
	buf := e.replyBuf[:0]
	deadline := e.now().Add(e.timeout)
	for e.now().Before(deadline) {
		b, ok := e.port.ReadByte()
		if !ok {
			e.sleep(pollIdle)
			continue
		}
		if b == frameEnd {
			break
		}
		buf = append(buf, b)
		if len(buf) == replyBufMax {
			break
		}
	}
	return buf
}

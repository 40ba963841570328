// Package report renders the telemetry JSON document published on the data
// topic and served on /livejson. The writer works into a caller-supplied
// buffer and allocates nothing; the document is rebuilt from the snapshots
// on every publish.
package report

import (
	"inverterzone/gateway/inverter"
	"inverterzone/gateway/version"
)

// MaxSize is the largest document the writer will emit. Output is truncated
// (never overrun) if the snapshots somehow exceed it.
const MaxSize = 4096

// RSSIUnknown marks the signal-strength field while the client link is down.
const RSSIUnknown = -999

// Diagnostics carries the device-health fields of the EspData member.
type Diagnostics struct {
	DeviceName string
	RSSI       int
	FreeHeap   uint64
	// HeapFragPct approximates allocator fragmentation in percent.
	HeapFragPct int
	DeviceType  string
	// Answer is the validated reply to the last control command; it is
	// rendered as "0" while empty.
	Answer string
}

// Build renders the document into buf and returns its length. The
// json_memory_usage field self-describes the document: it equals the
// returned length, fixed-pointed by rebuilding until the size is stable.
//
// keepCommandKeys additionally emits each entry under its raw wire command
// when that differs from the alias, so downstreams keyed on either name keep
// working.
func Build(buf []byte, d Diagnostics, device, live *inverter.Snapshot, keepCommandKeys bool) int {
	n := render(buf, d, device, live, keepCommandKeys, 0)
	// The usage field widens the document; a couple of passes settle it.
	for i := 0; i < 4; i++ {
		m := render(buf, d, device, live, keepCommandKeys, n)
		if m == n {
			break
		}
		n = m
	}
	return n
}

func render(buf []byte, d Diagnostics, device, live *inverter.Snapshot, keepCommandKeys bool, usage int) int {
	w := jsonWriter{buf: buf}

	w.writeRaw(`{"EspData":{"Device_name":`)
	w.writeString(d.DeviceName)
	w.writeRaw(`,"Wifi_RSSI":`)
	w.writeInt(d.RSSI)
	w.writeRaw(`,"sw_version":`)
	w.writeString(version.SWVersion)
	w.writeRaw(`,"Free_Heap":`)
	w.writeUint64(d.FreeHeap)
	w.writeRaw(`,"json_memory_usage":`)
	w.writeInt(usage)
	w.writeRaw(`,"HEAP_Fragmentation":`)
	w.writeInt(d.HeapFragPct)
	w.writeRaw(`,"type":`)
	w.writeString(d.DeviceType)
	w.writeRaw(`,"answer":`)
	if d.Answer == "" {
		w.writeRaw(`"0"`)
	} else {
		w.writeString(d.Answer)
	}
	w.writeRaw(`},"DeviceData":{`)
	writeSnapshot(&w, device, keepCommandKeys, `"QPIRI":""`)
	w.writeRaw(`},"LiveData":{`)
	writeSnapshot(&w, live, keepCommandKeys, `"QPIGS":""`)
	w.writeRaw(`}}`)

	return w.len()
}

// writeSnapshot emits a snapshot's entries as members. An empty snapshot
// falls back to a placeholder member so consumers always find the key they
// probe for.
func writeSnapshot(w *jsonWriter, s *inverter.Snapshot, keepCommandKeys bool, empty string) {
	if s == nil || s.Len() == 0 {
		w.writeRaw(empty)
		return
	}
	first := true
	for i := 0; i < s.Len(); i++ {
		alias, wire, value := s.Entry(i)
		if !first {
			w.writeByte(',')
		}
		first = false
		w.writeString(alias)
		w.writeByte(':')
		w.writeString(value)
		if keepCommandKeys && wire != alias {
			w.writeByte(',')
			w.writeString(wire)
			w.writeByte(':')
			w.writeString(value)
		}
	}
}

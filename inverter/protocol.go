package inverter

// Protocol identifies the wire dialect the inverter answered in.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolPI30
	ProtocolPI18
)

// String returns the protocol tag reported in diagnostics.
func (p Protocol) String() string {
	switch p {
	case ProtocolPI30:
		return "PI30"
	case ProtocolPI18:
		return "PI18"
	default:
		return "NoD"
	}
}

// Delimiter returns the field delimiter used inside replies of this dialect.
func (p Protocol) Delimiter() byte {
	if p == ProtocolPI18 {
		return ','
	}
	return ' '
}

// Command pairs a snapshot alias with the literal wire command behind it.
type Command struct {
	Alias string
	Wire  string
}

// CommandSet holds the static (identity/config, once per full cycle) and
// dynamic (live telemetry, every cycle) query sequences for one protocol.
type CommandSet struct {
	Static  []Command
	Dynamic []Command
}

var pi30Commands = CommandSet{
	Static: []Command{
		{Alias: "QPIRI", Wire: "QPIRI"},
		{Alias: "QMN", Wire: "QMN"},
		{Alias: "QVFW", Wire: "QVFW"},
		{Alias: "QFLAG", Wire: "QFLAG"},
		{Alias: "QPI", Wire: "QPI"},
		{Alias: "QBEQI", Wire: "QBEQI"},
	},
	Dynamic: []Command{
		{Alias: "QPIGS", Wire: "QPIGS"},
		{Alias: "QPIGS2", Wire: "QPIGS2"},
		{Alias: "QMOD", Wire: "QMOD"},
		{Alias: "Q1", Wire: "Q1"},
		{Alias: "QPIWS", Wire: "QPIWS"},
		{Alias: "PVPOWER", Wire: "PVPOWER"},
	},
}

var pi18Commands = CommandSet{
	Static: []Command{
		{Alias: "QPIRI", Wire: "^P007PIRI"},
		{Alias: "QVFW", Wire: "^P006VFW"},
		{Alias: "QFLAG", Wire: "^P007FLAG"},
		{Alias: "QPI", Wire: "^P005PI"},
	},
	Dynamic: []Command{
		{Alias: "QPIGS", Wire: "^P005GS"},
		{Alias: "QMOD", Wire: "^P006MOD"},
		{Alias: "QPIWS", Wire: "^P005FWS"},
	},
}

// Commands returns the command tables for p. Undetected devices fall back to
// the PI30 tables under the unknown protocol tag.
func (p Protocol) Commands() CommandSet {
	if p == ProtocolPI18 {
		return pi18Commands
	}
	return pi30Commands
}

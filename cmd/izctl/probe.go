package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"inverterzone/gateway/inverter"
)

var (
	probePort    string
	probeBaud    int
	probeCycles  int
	probeVerbose bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Drive an inverter directly over a serial adapter",
	Long: `Run the gateway's protocol engine against an inverter on a local
serial port: detect the protocol, poll the command tables, and print the
device and live snapshots. Useful for qualifying an inverter on the bench
before a gateway is installed.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probePort, "serial", "", "serial port device (default from profile)")
	probeCmd.Flags().IntVar(&probeBaud, "baud", 0, "baud rate (default from profile, then 2400)")
	probeCmd.Flags().IntVar(&probeCycles, "cycles", 1, "poll cycles to run after detection")
	probeCmd.Flags().BoolVar(&probeVerbose, "verbose", false, "log every exchange")
}

func runProbe(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if probePort == "" {
		probePort = p.SerialPort
	}
	if probePort == "" {
		return fmt.Errorf("no serial port: set --serial or the profile's serial_port")
	}
	if probeBaud <= 0 {
		probeBaud = p.SerialBaud
	}

	port, err := openBenchPort(probePort, probeBaud)
	if err != nil {
		return fmt.Errorf("open %s: %w", probePort, err)
	}
	defer port.Close()

	logOut := io.Writer(io.Discard)
	level := slog.LevelWarn
	if probeVerbose {
		logOut = os.Stderr
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	engine := inverter.New(port, logger, 1500*time.Millisecond)

	fmt.Printf("Probing %s at %d baud...\n", probePort, probeBaud)
	if !engine.Detect() {
		return fmt.Errorf("no inverter answered on %s", probePort)
	}
	fmt.Printf("Protocol: %s\n\n", engine.Protocol)

	// One cycle is the static table followed by the dynamic table.
	set := engine.Protocol.Commands()
	perCycle := len(set.Static) + len(set.Dynamic)
	for steps := probeCycles * perCycle; steps > 0; {
		if engine.Step(time.Now()) {
			steps--
			continue
		}
		time.Sleep(50 * time.Millisecond)
	}

	printSnapshot("DeviceData", &engine.Device)
	printSnapshot("LiveData", &engine.Live)
	if !engine.Connected() {
		fmt.Println("\nWarning: the inverter stopped answering mid-cycle.")
	}
	return nil
}

func printSnapshot(name string, s *inverter.Snapshot) {
	fmt.Printf("%s:\n", name)
	if s.Len() == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i := 0; i < s.Len(); i++ {
		alias, wire, value := s.Entry(i)
		if wire != alias {
			fmt.Printf("  %-12s (%s) = %s\n", alias, wire, value)
			continue
		}
		fmt.Printf("  %-12s = %s\n", alias, value)
	}
}

// benchPort adapts a host serial port to the engine's polled reads. A short
// read timeout makes ReadByte behave like the firmware UART: returns nothing
// rather than blocking.
type benchPort struct {
	port serial.Port
	rb   [1]byte
}

func openBenchPort(name string, baud int) (*benchPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return &benchPort{port: port}, nil
}

func (b *benchPort) Write(p []byte) (int, error) {
	return b.port.Write(p)
}

func (b *benchPort) ReadByte() (byte, bool) {
	n, err := b.port.Read(b.rb[:])
	if err != nil || n == 0 {
		return 0, false
	}
	return b.rb[0], true
}

func (b *benchPort) Close() error { return b.port.Close() }

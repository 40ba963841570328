package version

// Build information (injected via ldflags - must NOT have default values)
var (
	Version   string
	GitSHA    string
	BuildDate string
)

// SWVersion is the firmware version string reported in the telemetry document.
const SWVersion = "8.9"

// Hardcoded build marker - change this to verify correct firmware is flashed
const BuildMarker = "build-001"

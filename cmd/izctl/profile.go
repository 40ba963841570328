package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// profile carries the saved connection settings. Flags override file values,
// so a profile is a convenience, never a requirement.
type profile struct {
	Host       string `yaml:"host"`
	Broker     string `yaml:"broker"`
	TopicBase  string `yaml:"topic_base"`
	Device     string `yaml:"device"`
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "izctl.yaml")
}

// loadProfile reads the profile file and overlays the global flags. A missing
// default file is fine; a missing file named with --profile is an error.
func loadProfile() (profile, error) {
	p := profile{
		TopicBase:  "Realtime",
		SerialBaud: 2400,
	}

	path := flagProfile
	explicit := path != ""
	if !explicit {
		path = defaultProfilePath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &p); err != nil {
				return p, fmt.Errorf("profile %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return p, err
		}
	}

	if flagHost != "" {
		p.Host = flagHost
	}
	if flagBroker != "" {
		p.Broker = flagBroker
	}
	if flagBase != "" {
		p.TopicBase = flagBase
	}
	if flagDevice != "" {
		p.Device = flagDevice
	}
	if p.TopicBase == "" {
		p.TopicBase = "Realtime"
	}
	if p.SerialBaud <= 0 {
		p.SerialBaud = 2400
	}
	return p, nil
}

func (p profile) requireHost() error {
	if p.Host == "" {
		return errors.New("no gateway address: set --host or the profile's host")
	}
	return nil
}

func (p profile) requireBroker() error {
	if p.Broker == "" {
		return errors.New("no broker address: set --broker or the profile's broker")
	}
	return nil
}

func (p profile) requireDevice() error {
	if p.Device == "" {
		return errors.New("no device id: set --device or the profile's device")
	}
	return nil
}

func (p profile) dataTopic() string  { return p.TopicBase + "/Data" }
func (p profile) aliveTopic() string { return p.TopicBase + "/Alive" }
func (p profile) ipTopic() string    { return p.TopicBase + "/IP" }

func (p profile) controlTopic() string {
	return p.TopicBase + "/DeviceControl/" + p.Device + "/Set_Command"
}

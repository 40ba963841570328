package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision <ssid> [password]",
	Short: "Store a WiFi credential on the gateway",
	Long: `POST a credential to /wifisave. The gateway saves it to flash and
starts joining the network in the background while the hotspot stays up.

Join the device's Solar_<MAC> hotspot first and use --host 192.168.4.1,
or reach an already-joined gateway at its station address.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if err := p.requireHost(); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("s", args[0])
	if len(args) == 2 {
		form.Set("p", args[1])
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(
		"http://"+p.Host+"/wifisave",
		"application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, body)
	}
	fmt.Printf("Credential for %q saved. The gateway joins in the background;\n", args[0])
	fmt.Println("the hotspot drops once the network is up.")
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
)

var sendTimeout int

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send a raw inverter command through the broker",
	Long: `Publish a wire command to the device's control topic and wait for the
data document that carries its answer.

The command goes to the inverter verbatim, framed and checksummed by the
gateway. Example:

  izctl send --device aabbccddeeff POP02`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 30, "seconds to wait for the answer")
}

func runSend(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if err := p.requireBroker(); err != nil {
		return err
	}
	if err := p.requireDevice(); err != nil {
		return err
	}

	client, err := dialBroker(p)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Subscribe before publishing so the answer cannot slip past.
	answers := make(chan string, 4)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var doc struct {
			EspData struct {
				Answer string `json:"answer"`
			} `json:"EspData"`
		}
		if json.Unmarshal(msg.Payload(), &doc) == nil && doc.EspData.Answer != "" {
			answers <- doc.EspData.Answer
		}
	}
	if token := client.Subscribe(p.dataTopic(), 0, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", p.dataTopic(), token.Error())
	}

	command := args[0]
	if token := client.Publish(p.controlTopic(), 0, false, command); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish: %w", token.Error())
	}
	fmt.Printf("Sent %q to %s\n", command, p.controlTopic())

	select {
	case answer := <-answers:
		fmt.Printf("Answer: %s\n", answer)
		return nil
	case <-time.After(time.Duration(sendTimeout) * time.Second):
		return fmt.Errorf("no answer within %ds: the gateway may be offline or the inverter rejected the command silently", sendTimeout)
	}
}

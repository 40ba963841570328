package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
)

var watchRaw bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the gateway's broker topics",
	Long: `Subscribe to the Alive, IP and Data topics and print every message
until interrupted. Data documents are pretty-printed unless --raw is set.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "print payloads verbatim")
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if err := p.requireBroker(); err != nil {
		return err
	}

	client, err := dialBroker(p)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		stamp := time.Now().Format("15:04:05")
		payload := msg.Payload()
		if !watchRaw && msg.Topic() == p.dataTopic() {
			var pretty bytes.Buffer
			if json.Indent(&pretty, payload, "", "  ") == nil {
				payload = pretty.Bytes()
			}
		}
		fmt.Printf("%s %s %s\n", stamp, msg.Topic(), payload)
	}
	for _, topic := range []string{p.aliveTopic(), p.ipTopic(), p.dataTopic()} {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}

	fmt.Printf("Watching %s/{Alive,IP,Data} on %s, Ctrl-C to stop\n", p.TopicBase, p.Broker)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	return nil
}

// dialBroker connects a paho client with the shared option set.
func dialBroker(p profile) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + p.Broker).
		SetClientID(fmt.Sprintf("izctl-%d", os.Getpid())).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", p.Broker, token.Error())
	}
	return client, nil
}

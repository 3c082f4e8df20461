package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/application"
	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <yaml-config-file>",
	Short: "Run a chat node on a real interface or a simulated segment",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var conf struct {
			Node application.NodeConfig `yaml:"node"`
		}
		if err := config.ReadYAMLFileAndUnmarshal(args[0], &conf); err != nil {
			return fmt.Errorf("error reading yaml node config file: %w", err)
		}

		ctx, cancel := contextWithCancelOnInterrupt(cmd.Context())
		defer cancel()

		node, err := application.NewNode(ctx, conf.Node, consoleSink{})
		if err != nil {
			return err
		}
		defer node.Close()

		fmt.Printf("chatting as %s (%s), type a message or /help\n",
			node.Hostname(), node.MACAddress())

		go consoleLoop(ctx, cancel, node)
		node.Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type consoleSink struct{}

func (consoleSink) DisplayMessage(from, text string) {
	fmt.Printf("[%s] %s\n", from, text)
}

func (consoleSink) ReportError(context string, err error) {
	fmt.Printf("[error] %s: %v\n", context, err)
}

func (consoleSink) NotifyPeerFound(peer application.Peer) {
	fmt.Printf("[system] peer found: %s (%s)\n", peer.Hostname, peer.MAC)
}

func (consoleSink) UpdateProgress(label string, done, total int) {
	fmt.Printf("[progress] %s: %d/%d\n", label, done, total)
}

func consoleLoop(ctx context.Context, cancel context.CancelFunc, node *application.Node) {
	defer cancel()

	dst := link.BroadcastMACAddress()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		var err error
		switch fields[0] {
		case "/help":
			fmt.Println("/to <mac|broadcast>, /peers, /discover, /secure <mac>, /file <path>, /folder <path>, /stats, /quit")
		case "/to":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: /to <mac|broadcast>")
				break
			}
			if fields[1] == "broadcast" {
				dst = link.BroadcastMACAddress()
				break
			}
			var mac net.HardwareAddr
			if mac, err = net.ParseMAC(fields[1]); err == nil {
				dst = mac
			}
		case "/peers":
			for _, peer := range node.Peers() {
				fmt.Printf("%s\t%s\tlast seen %s\n", peer.MAC, peer.Hostname, peer.LastSeen.Format("15:04:05"))
			}
		case "/discover":
			err = node.RequestDiscovery(ctx)
		case "/secure":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: /secure <mac>")
				break
			}
			var mac net.HardwareAddr
			if mac, err = net.ParseMAC(fields[1]); err == nil {
				node.Security().Enable()
				err = node.InitiateKeyExchange(ctx, mac)
			}
		case "/file":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: /file <path>")
				break
			}
			err = node.SendFile(ctx, dst, fields[1])
		case "/folder":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: /folder <path>")
				break
			}
			err = node.SendFolder(ctx, dst, fields[1])
		case "/stats":
			stats := node.Stats()
			fmt.Printf("frames sent %d, received %d, dropped %d; messages sent %d, received %d; fragmented sent %d; pending reassemblies %d\n",
				stats.FramesSent, stats.FramesReceived, stats.FramesDropped,
				stats.MessagesSent, stats.MessagesReceived,
				stats.FragmentedMessagesSent, stats.PendingReassemblies)
		case "/quit":
			return
		default:
			err = node.SendMessage(ctx, dst, line)
		}
		if err != nil {
			fmt.Printf("[error] %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

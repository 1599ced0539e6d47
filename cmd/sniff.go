package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/sonifyv1/posebridge/internal/message"
	"github.com/sonifyv1/posebridge/internal/sniff"
	"github.com/spf13/cobra"
)

var (
	sniffPort    int
	sniffHost    string
	sniffPcap    string
	sniffTimeout string
	sniffVerbose bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Receive and decode the records sent by the streamer",
	Long: `Listens on a UDP port (or reads a pcap capture with --pcap) and prints one
line per decoded record. Exits with status 1 if nothing was received.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := parsePositiveDuration("timeout", sniffTimeout)
		if err != nil {
			return err
		}

		var stats sniff.Stats
		if sniffPcap != "" {
			fmt.Fprintf(os.Stderr, "📂 Replaying %s (UDP port %d)\n", sniffPcap, sniffPort)
			stats, err = sniff.ReplayFile(sniffPcap, sniffPort, printPacket)
		} else {
			addr := net.JoinHostPort(sniffHost, strconv.Itoa(sniffPort))
			fmt.Fprintf(os.Stderr, "👂 Listening on %s for %s\n", addr, timeout)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			stats, err = sniff.Listen(ctx, addr, printPacket)
		}
		if err != nil {
			return err
		}

		printStats(stats)
		if stats.Packets == 0 {
			return errors.New("no packets received")
		}
		return nil
	},
}

func init() {
	sniffCmd.Flags().IntVarP(&sniffPort, "port", "p", 8888, "UDP port to listen on")
	sniffCmd.Flags().StringVar(&sniffHost, "host", "0.0.0.0", "Address to bind")
	sniffCmd.Flags().StringVar(&sniffPcap, "pcap", "", "Read packets from a pcap file instead of listening")
	sniffCmd.Flags().StringVarP(&sniffTimeout, "timeout", "t", "10s", "How long to listen")
	sniffCmd.Flags().BoolVarP(&sniffVerbose, "verbose", "v", false, "Print raw payloads")
	rootCmd.AddCommand(sniffCmd)
}

func printPacket(p sniff.Packet) {
	at := p.At.Format("15:04:05.000")
	if p.Err != nil {
		fmt.Printf("%s  %-21s  %5d B  ⚠️  %v\n", at, p.From, p.Size, p.Err)
		return
	}

	fmt.Printf("%s  %-21s  %5d B  %s%s\n", at, p.From, p.Size, message.Summary(p.Record), latency(p))
	if sniffVerbose {
		fmt.Printf("    %s\n", p.Payload)
	}
}

// latency is the delay between capture and receipt, for live packets only
func latency(p sniff.Packet) string {
	var ts float64
	switch r := p.Record.(type) {
	case *message.PoseRecord:
		ts = r.Timestamp
	case *message.HandsRecord:
		ts = r.Timestamp
	case *message.FaceRecord:
		ts = r.Timestamp
	case *message.SegmentationRecord:
		ts = r.Timestamp
	}
	if ts == 0 || sniffPcap != "" {
		return ""
	}
	d := p.At.Sub(time.Unix(0, int64(ts*float64(time.Second))))
	return fmt.Sprintf(" (+%dms)", d.Milliseconds())
}

func printStats(s sniff.Stats) {
	fmt.Printf("\n📊 %d packets, %d decoded, %d malformed\n", s.Packets, s.Decoded, s.Errors)
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("   %-13s %d\n", k, s.ByKind[k])
	}
}

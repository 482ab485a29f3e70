// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/howeyc/gopass"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/radiod/pkg/server"
)

var (
	statsRemote       remote
	statsPassword     string
	promptForPassword bool
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [host]",
	Short: "Print stats from a radiod server",
	Long: `stats queries a radiod server for running stats.

If the host is omitted, the local radiod server will be queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := statsRemote.host(args)
		if len(args) == 0 {
			statsPassword = viper.GetString("server.statsPassword")
		}
		return getStats(host)
	},
}

func init() {
	RootCmd.AddCommand(statsCmd)
	statsRemote.addFlags(statsCmd)
	statsCmd.Flags().BoolVarP(&promptForPassword, "prompt-for-password", "p", false, "prompt for the server's stats password\n    If unset, the password is the same as the local server's.")
}

func getStats(host string) error {
	if promptForPassword {
		fmt.Printf("Password: ")
		pass, err := gopass.GetPasswd()
		if err != nil {
			return err
		}
		statsPassword = string(pass)
	}

	if statsPassword == "" {
		statsPassword = os.Getenv("RADIOD_STATS_PASSWORD")
	}

	if statsPassword == "" {
		return errors.New("A stats password is required")
	}

	var stats server.Stats
	header := http.Header{server.StatsPasswordHeader: {statsPassword}}
	if err := statsRemote.get(host, "/api/stats", header, &stats); err != nil {
		return err
	}

	fmt.Printf(`Stats for %s:
Uptime: %s
Number of channels: %d (%d busy)
Number of members: %d (%d connected sessions)
Max members: %d on %s

Transmissions granted: %d, rejected: %d, timed out: %d
Audio clips relayed: %d, deliveries dropped: %d
Audio conversions: %d (%d failed, %d timed out)
`, statsRemote.friendlyAddr(host), stats.Uptime,
		stats.NumChannels, stats.BusyChannels,
		stats.NumMembers, stats.ActiveSessions,
		stats.MaxMembers, stats.MaxMembersAt,
		stats.TransmissionsGranted, stats.TransmissionsRejected, stats.TransmissionTimeouts,
		stats.ClipsRelayed, stats.DeliveriesDropped,
		stats.Media.Conversions, stats.Media.Failures, stats.Media.Timeouts)
	return nil
}

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/n0ot/radiod/pkg/radio"
)

var channelsRemote remote

// channelsCmd represents the channels command
var channelsCmd = &cobra.Command{
	Use:   "channels [host]",
	Short: "List the channels of a radiod server",
	Long: `channels lists a radiod server's channels, how many members each has,
and who is transmitting.

If the host is omitted, the local radiod server will be queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := channelsRemote.host(args)
		var list struct {
			Channels []radio.Summary `json:"channels"`
		}
		if err := channelsRemote.get(host, "/api/radio/channels", nil, &list); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tNAME\tMEMBERS\tTRANSMITTING")
		for _, ch := range list.Channels {
			transmitting := "-"
			if ch.TransmittingUser != nil {
				transmitting = *ch.TransmittingUser
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", ch.Channel, ch.ChannelName, ch.UserCount, transmitting)
		}
		return w.Flush()
	},
}

func init() {
	RootCmd.AddCommand(channelsCmd)
	channelsRemote.addFlags(channelsCmd)
}

package commands

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/radiod/pkg/auth"
)

var tokenExpiry time.Duration

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token <user_id>",
	Short: "Print a token a user can connect with",
	Long: `token signs a token for user_id with auth.jwtSecret.

The user must also be in the user directory (see "radiod users add") to connect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := auth.NewJWT(viper.GetString("auth.jwtSecret"), viper.GetString("auth.issuer"), tokenExpiry)
		if err != nil {
			return errors.Wrap(err, "auth.jwtSecret")
		}
		token, err := issuer.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVarP(&tokenExpiry, "expiry", "e", 24*time.Hour, "how long the token is valid for")
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/radiod/pkg/auth"
)

// usersCmd represents the users command
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the users allowed to connect",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <user_id> <username> [full name]",
	Short: "Add or replace a user",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir *auth.BoltDirectory) error {
			profile := auth.Profile{
				UserID:   args[0],
				Username: args[1],
				FullName: strings.Join(args[2:], " "),
			}
			if err := dir.Put(profile); err != nil {
				return err
			}
			fmt.Printf("Added %s (%s)\n", profile.UserID, profile.Username)
			return nil
		})
	},
}

var usersRemoveCmd = &cobra.Command{
	Use:   "remove <user_id>",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(dir *auth.BoltDirectory) error {
			return dir.Delete(args[0])
		})
	},
}

func init() {
	RootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersAddCmd, usersRemoveCmd)
}

// openDirectory opens the user directory at directory.path, creating its parent directory if needed.
func openDirectory() (*auth.BoltDirectory, error) {
	path := os.ExpandEnv(viper.GetString("directory.path"))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "Create directory for user database")
	}
	return auth.OpenBoltDirectory(path)
}

// withDirectory opens the user directory for the duration of f.
// The directory can't be opened while radiod is running with it.
func withDirectory(f func(dir *auth.BoltDirectory) error) error {
	dir, err := openDirectory()
	if err != nil {
		return err
	}
	defer dir.Close()
	return f(dir)
}

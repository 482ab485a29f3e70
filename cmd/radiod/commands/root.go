// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"os"
	"path"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgDir string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "radiod",
	Short: "Push-to-talk radio server",
	Long: `Radiod is a push-to-talk radio server.

Clients connect to one of a fixed set of numbered channels over a websocket.
One member of a channel may transmit at a time, and the audio they send
is relayed to everyone else in the channel.

Radiod also lists channels, prints usage stats for other radiod servers,
and manages the users allowed to connect.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default is $HOME/.config/radiod)")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("server.bind", "127.0.0.1:8080")
	viper.SetDefault("server.statsPassword", "")
	viper.SetDefault("tls.useTls", false)
	viper.SetDefault("auth.issuer", "")
	viper.SetDefault("directory.path", "$CONFDIR/users.db")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgDir == "" {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search for config in $HOME/.config/radiod
		cfgDir = path.Join(home, ".config", "radiod")
	}

	viper.AddConfigPath(cfgDir)
	viper.SetConfigName("radiod")
	viper.SetConfigType("toml")

	// RADIOD_SERVER_BIND overrides server.bind, and so on.
	viper.SetEnvPrefix("radiod")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	os.Setenv("CONFDIR", cfgDir)

	// If a config file is found, read it in.
	// Every setting has a default or can come from the environment, so a missing file is fine.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error loading config file: %s\n", err)
			os.Exit(1)
		}
	}
}

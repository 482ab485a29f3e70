// Copyright © 2018 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/radiod/pkg/auth"
	"github.com/n0ot/radiod/pkg/media"
	"github.com/n0ot/radiod/pkg/radio"
	"github.com/n0ot/radiod/pkg/server"
)

const shutdownGrace = 10 * time.Second

var (
	log        *logrus.Logger
	disableTLS bool
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the radiod server",
	RunE:  runServer,
}

func init() {
	RootCmd.AddCommand(startCmd)

	startCmd.Flags().StringP("bind", "b", "127.0.0.1:8080", "Bind the server to host:port. Leave host empty to bind to all interfaces.")
	viper.BindPFlag("server.bind", startCmd.Flags().Lookup("bind"))
	startCmd.Flags().IntP("time-between-pings", "t", 30, "How often pings should be sent in seconds (0 disables)")
	viper.BindPFlag("server.timeBetweenPings", startCmd.Flags().Lookup("time-between-pings"))
	startCmd.Flags().IntP("pings-until-timeout", "p", 2, "Number of ping intervals a client has to answer a ping before it is dropped")
	viper.BindPFlag("server.pingsUntilTimeout", startCmd.Flags().Lookup("pings-until-timeout"))
	startCmd.Flags().IntP("channels", "c", radio.DefaultChannels, "Number of channels")
	viper.BindPFlag("radio.channels", startCmd.Flags().Lookup("channels"))
	startCmd.Flags().Int("transmission-timeout", 0, "Seconds a member may transmit before the channel is released (0 disables)")
	viper.BindPFlag("radio.transmissionTimeout", startCmd.Flags().Lookup("transmission-timeout"))
	startCmd.Flags().BoolVarP(&disableTLS, "disable-tls", "d", false, "Overrides config option to enable TLS")

	viper.SetDefault("server.allowedOrigins", []string{})
	viper.SetDefault("server.statsFailureDelay", 5)
	viper.SetDefault("radio.channelNames", map[string]string{})
	viper.SetDefault("radio.sendQueue", 64)
	viper.SetDefault("media.canonicalMime", media.DefaultCanonical)
	viper.SetDefault("media.ffmpeg", "ffmpeg")
	viper.SetDefault("media.timeout", 10)
	viper.SetDefault("media.workers", media.DefaultWorkers)
	viper.SetDefault("tracing.stdout", false)
	viper.SetDefault("tracing.otlpEndpoint", "")
	viper.SetDefault("tracing.otlpInsecure", false)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	setLogLevel(l, viper.GetString("log.level"))
	return l
}

func setLogLevel(l *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithField("level", level).Warn("Unknown log level; using info")
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
}

// watchConfig applies log level changes without a restart.
// Other settings take effect the next time the server starts.
func watchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.WithFields(logrus.Fields{
			"file": e.Name,
			"op":   e.Op.String(),
		}).Info("Config file changed")
		setLogLevel(log, viper.GetString("log.level"))
	})
	viper.WatchConfig()
}

// channelNames reads radio.channelNames, a table from channel number to name.
func channelNames() (map[int]string, error) {
	names := make(map[int]string)
	for key, name := range viper.GetStringMapString("radio.channelNames") {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, errors.Errorf("radio.channelNames: %q is not a channel number", key)
		}
		names[id] = name
	}
	return names, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	log = newLogger()
	watchConfig()

	verifier, err := auth.NewJWT(viper.GetString("auth.jwtSecret"), viper.GetString("auth.issuer"), 0)
	if err != nil {
		return errors.Wrap(err, "auth.jwtSecret")
	}
	directory, err := openDirectory()
	if err != nil {
		return err
	}
	defer directory.Close()

	names, err := channelNames()
	if err != nil {
		return err
	}
	registry := radio.New(log, radio.Config{
		Channels:            viper.GetInt("radio.channels"),
		Names:               names,
		TransmissionTimeout: viper.GetDuration("radio.transmissionTimeout") * time.Second,
	})

	normalizer := media.NewNormalizer(log, media.FFmpeg{Path: viper.GetString("media.ffmpeg")}, media.Config{
		Canonical: viper.GetString("media.canonicalMime"),
		Timeout:   viper.GetDuration("media.timeout") * time.Second,
		Workers:   viper.GetInt64("media.workers"),
	})
	if !media.SupportsTarget(normalizer.Canonical()) {
		return errors.Errorf("media.canonicalMime: cannot convert to %s", normalizer.Canonical())
	}

	tracing, err := startTracing(context.Background())
	if err != nil {
		return err
	}

	srv := &server.Server{
		TimeBetweenPings:  viper.GetDuration("server.timeBetweenPings") * time.Second,
		PingsUntilTimeout: viper.GetInt("server.pingsUntilTimeout"),
		StatsPassword:     viper.GetString("server.statsPassword"),
		StatsFailureDelay: viper.GetDuration("server.statsFailureDelay") * time.Second,
		AllowedOrigins:    viper.GetStringSlice("server.allowedOrigins"),
		SendQueue:         viper.GetInt("radio.sendQueue"),
		Log:               log,
		Registry:          registry,
		Normalizer:        normalizer,
		Verifier:          verifier,
		Directory:         directory,
	}

	bindAddr := viper.GetString("server.bind")
	certFile := os.ExpandEnv(viper.GetString("tls.certFile"))
	keyFile := os.ExpandEnv(viper.GetString("tls.keyFile"))
	useTLS := viper.GetBool("tls.useTls")

	log.Info("Starting radiod")
	served := make(chan error, 1)
	go func() {
		if useTLS && !disableTLS {
			served <- srv.ListenAndServeTLS(bindAddr, certFile, keyFile)
		} else {
			served <- srv.ListenAndServe(bindAddr)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case err := <-served:
		tracing.shutdown(context.Background())
		return err
	case sig := <-sigs:
		log.WithField("signal", sig).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithField("error", err).Warn("Server did not shut down cleanly")
	}
	if err := <-served; err != nil {
		log.WithField("error", err).Warn("Server stopped with an error")
	}
	if err := tracing.shutdown(ctx); err != nil {
		log.WithField("error", err).Warn("Cannot flush traces")
	}
	log.WithField("stats", srv.Stats()).Info("Server stopped")
	return nil
}

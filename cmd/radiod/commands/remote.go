// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultPort = "8080"

// remote holds the options for querying a radiod server's API.
type remote struct {
	port                string
	disableTLS          bool
	skipTLSVerification bool
	serverCertificate   string
}

func (r *remote) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&r.port, "port", "P", defaultPort, "port of the server to query")
	cmd.Flags().BoolVarP(&r.disableTLS, "disable-tls", "d", false, "disable connecting over TLS")
	cmd.Flags().BoolVarP(&r.skipTLSVerification, "no-tls-verify", "n", false, "skip TLS verification\n    This is insecure, an attacker can get your password, and you should only use this for testing")
	cmd.Flags().StringVarP(&r.serverCertificate, "server-certificate", "s", "", "file containing the PEM encoded certificate to use for server verification, instead of the system's certificate store")
}

// host gets the host to query from args.
// If the host is omitted, the options come from the local server's configuration.
func (r *remote) host(args []string) string {
	if len(args) > 0 {
		if r.disableTLS {
			fmt.Fprintln(os.Stderr, "Warning: TLS is disabled. All traffic including your stats password will be sent in the clear.")
		} else if r.skipTLSVerification {
			fmt.Fprintln(os.Stderr, "Warning: skipping TLS verification is insecure.")
		}
		return args[0]
	}

	if _, port, err := net.SplitHostPort(viper.GetString("server.bind")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot determine local server port from config; using \"%s\"\n", r.port)
	} else {
		r.port = port
	}
	r.disableTLS = !viper.GetBool("tls.useTls")
	r.skipTLSVerification = true
	if !r.disableTLS {
		fmt.Fprintln(os.Stderr, "Skipping TLS verification for local server query")
	}
	return "127.0.0.1"
}

func (r *remote) client() (*http.Client, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	if r.disableTLS {
		return client, nil
	}

	var certPool *x509.CertPool
	if r.serverCertificate != "" {
		cert, err := ioutil.ReadFile(r.serverCertificate)
		if err != nil {
			return nil, errors.Wrap(err, "Open server certificate")
		}
		certPool = x509.NewCertPool()
		certPool.AppendCertsFromPEM(cert)
	}
	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: r.skipTLSVerification,
			RootCAs:            certPool,
		},
	}
	return client, nil
}

// get fetches path from host, and decodes the JSON response into v.
func (r *remote) get(host, path string, header http.Header, v interface{}) error {
	client, err := r.client()
	if err != nil {
		return err
	}
	scheme := "https"
	if r.disableTLS {
		scheme = "http"
	}
	req, err := http.NewRequest(http.MethodGet, scheme+"://"+net.JoinHostPort(host, r.port)+path, nil)
	if err != nil {
		return err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "Connect to radiod server")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Error == "" {
			return errors.Errorf("Server returned %s", resp.Status)
		}
		return errors.Errorf("Server returned an error: %s", failure.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "Decode response from server")
	}
	return nil
}

// friendlyAddr doesn't display the default port.
func (r *remote) friendlyAddr(host string) string {
	if r.port == defaultPort {
		return host
	}
	return net.JoinHostPort(host, r.port)
}

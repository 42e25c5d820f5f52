// Package config parses the process's command-line flags.
package config

import (
	"flag"
	"fmt"
)

// Config holds the resolved startup parameters for faultproxyd.
type Config struct {
	Host         string
	APIPort      int
	ProxyPort    int
	UpstreamHost string
	UpstreamPort int
}

// Parse reads args (typically os.Args[1:]) into a Config, applying the
// package's default host/port values for any flag not supplied.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("faultproxyd", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.Host, "host", "127.0.0.1", "address the control plane and the default proxy listen on")
	fs.IntVar(&cfg.APIPort, "api-port", 8474, "control plane port")
	fs.IntVar(&cfg.ProxyPort, "proxy-port", 8475, "default proxy's listener port, created at startup")
	fs.StringVar(&cfg.UpstreamHost, "upstream-host", "127.0.0.1", "default proxy's upstream host")
	fs.IntVar(&cfg.UpstreamPort, "upstream-port", 8476, "default proxy's upstream port")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// APIAddr returns the host:port the control plane should bind.
func (c Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.APIPort)
}

// DefaultProxyListenAddr returns the host:port the startup proxy should bind.
func (c Config) DefaultProxyListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ProxyPort)
}

// DefaultProxyUpstreamAddr returns the host:port the startup proxy forwards to.
func (c Config) DefaultProxyUpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.UpstreamHost, c.UpstreamPort)
}

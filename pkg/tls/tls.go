// Package tls builds mutual TLS configurations for the forecaster's HTTP
// server and for clients calling it or calling out to adapters and remote
// models.
//
// Both sides require TLS 1.3 and verify the peer against a shared CA.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds PEM file paths for one side of an mTLS connection.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// Validate reports missing or unreadable files when TLS is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" || c.CAFile == "" {
		return errors.New("tls enabled but cert/key/ca files not specified")
	}
	return c.statFiles()
}

func (c Config) statFiles() error {
	for _, f := range []struct{ what, path string }{
		{"certificate", c.CertFile},
		{"key", c.KeyFile},
		{"CA certificate", c.CAFile},
	} {
		if f.path == "" {
			return fmt.Errorf("%s file path cannot be empty", f.what)
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%s file %q: %w", f.what, f.path, err)
		}
	}
	return nil
}

// ServerConfig returns a server configuration that requires client
// certificates signed by the CA. The server certificate itself is loaded by
// the listener from CertFile and KeyFile.
func (c Config) ServerConfig() (*tls.Config, error) {
	if err := c.statFiles(); err != nil {
		return nil, err
	}
	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	cfg := baseConfig()
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// ClientConfig returns a client configuration presenting the certificate
// and verifying servers against the CA.
func (c Config) ClientConfig() (*tls.Config, error) {
	if err := c.statFiles(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	cfg := baseConfig()
	cfg.Certificates = []tls.Certificate{cert}
	cfg.RootCAs = pool
	return cfg, nil
}

func baseConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}

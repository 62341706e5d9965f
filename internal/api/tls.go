package api

import (
	"crypto/tls"
	"log"
	"os"
)

// TLSConfig holds the certificate paths for the API server.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

var tlsConfig *TLSConfig

// InitTLS reads TILLER_TLS_CERT and TILLER_TLS_KEY. Both must be set
// for TLS to engage; otherwise the server stays on plain HTTP.
func InitTLS() {
	certFile := os.Getenv("TILLER_TLS_CERT")
	keyFile := os.Getenv("TILLER_TLS_KEY")

	if certFile != "" && keyFile != "" {
		tlsConfig = &TLSConfig{CertFile: certFile, KeyFile: keyFile}
	}
}

// IsTLSEnabled reports whether certificate paths are configured.
func IsTLSEnabled() bool {
	return tlsConfig != nil && tlsConfig.CertFile != "" && tlsConfig.KeyFile != ""
}

// GetTLSConfig returns the configured certificate paths, nil when TLS
// is off.
func GetTLSConfig() *TLSConfig {
	return tlsConfig
}

// LoadTLSConfig builds a tls.Config from the configured key pair.
// Returns nil, with a log line, when TLS is off or the pair does not
// load; the caller falls back to plain HTTP.
func LoadTLSConfig() *tls.Config {
	if !IsTLSEnabled() {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		log.Printf("tls key pair not loadable, serving plain http: %v", err)
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// SetTLSConfigForTest lets tests control the TLS state directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}

// Package security holds the TLS settings for stream links and the admin server
package security

import (
	"strconv"
	"strings"
)

// Stream setting keys read by ClientFromExtra
const (
	ExtraTLS        = "tls"
	ExtraCAFiles    = "tls_ca"
	ExtraCertFile   = "tls_cert"
	ExtraKeyFile    = "tls_key"
	ExtraMinVersion = "tls_min"
	ExtraInsecure   = "tls_insecure"
)

// ServerTLSConfig holds TLS configuration for the admin HTTP server
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"                yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty"    yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"     yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"  yaml:"min_version,omitempty"` // "1.2" or "1.3"

	// mTLS: CA certs to trust for client validation
	ClientCAFiles     []string `json:"client_ca_files,omitempty"     yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
}

// ClientTLSConfig holds TLS configuration for outgoing stream links.
// Always uses system CA bundle first, CAFiles are ADDITIONAL trusted CAs
type ClientTLSConfig struct {
	Enabled            bool
	CAFiles            []string
	InsecureSkipVerify bool // DEV/TEST ONLY
	MinVersion         string

	// client certificate for mTLS, both or neither
	CertFile string
	KeyFile  string
}

// ClientFromExtra reads the tls_* settings of a stream. TLS is on when
// "tls" is true or any other tls_* key is present.
func ClientFromExtra(extra map[string]string) ClientTLSConfig {
	var cfg ClientTLSConfig
	if extra == nil {
		return cfg
	}
	on, _ := strconv.ParseBool(extra[ExtraTLS])
	cfg.InsecureSkipVerify, _ = strconv.ParseBool(extra[ExtraInsecure])
	cfg.MinVersion = extra[ExtraMinVersion]
	cfg.CertFile = extra[ExtraCertFile]
	cfg.KeyFile = extra[ExtraKeyFile]
	for _, f := range strings.Split(extra[ExtraCAFiles], ";") {
		if f = strings.TrimSpace(f); f != "" {
			cfg.CAFiles = append(cfg.CAFiles, f)
		}
	}
	cfg.Enabled = on || cfg.InsecureSkipVerify || cfg.MinVersion != "" ||
		cfg.CertFile != "" || len(cfg.CAFiles) > 0
	return cfg
}

package certstore

import (
	"crypto/tls"
	"crypto/x509"
	_ "embed"
)

//go:embed builtin_ca.pem
var builtinCA []byte

// tlsMinVersion is the minimum TLS version for broker connections.
const tlsMinVersion = tls.VersionTLS12

// Source identifies where the trust anchor of a TLS config came from.
type Source int

const (
	SourceInsecure Source = iota
	SourcePersisted
	SourceBuiltin
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceInsecure:
		return "insecure"
	case SourcePersisted:
		return "persisted"
	case SourceBuiltin:
		return "builtin"
	case SourceFallback:
		return "insecure_fallback"
	default:
		return "unknown"
	}
}

// Verified reports whether the source verifies the server certificate.
func (s Source) Verified() bool {
	return s == SourcePersisted || s == SourceBuiltin
}

// Logger is the logging used while resolving certificates.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// TLSConfig builds the client TLS config for host.
//
// ServerName is assigned before anything else so every returned config
// carries SNI. Trust is then taken from, in order: the insecure flag, the
// persisted CertFile in store, the compiled-in bundle, and finally an
// unverified fallback which is logged as degraded.
func TLSConfig(host string, insecure bool, store Store, logger Logger) (*tls.Config, Source) {
	cfg := &tls.Config{ServerName: host}
	cfg.MinVersion = tlsMinVersion

	if insecure {
		cfg.InsecureSkipVerify = true //nolint:gosec // explicitly configured
		logger.Warn("TLS certificate verification disabled by configuration", "host", host)
		return cfg, SourceInsecure
	}

	if store != nil && store.Exists(CertFile) {
		data, err := store.ReadAll(CertFile)
		switch {
		case err != nil:
			logger.Warn("reading persisted CA certificate failed", "file", CertFile, "error", err)
		case len(data) > MaxCertSize:
			logger.Warn("persisted CA certificate too large", "file", CertFile, "size", len(data))
		default:
			if pool := x509.NewCertPool(); pool.AppendCertsFromPEM(data) {
				cfg.RootCAs = pool
				logger.Info("using persisted CA certificate", "file", CertFile, "size", len(data))
				return cfg, SourcePersisted
			}
			logger.Warn("persisted CA certificate holds no certificates", "file", CertFile)
		}
	}

	if pool := x509.NewCertPool(); pool.AppendCertsFromPEM(builtinCA) {
		cfg.RootCAs = pool
		logger.Info("using built-in CA certificate")
		return cfg, SourceBuiltin
	}

	cfg.InsecureSkipVerify = true //nolint:gosec // no trust anchor available
	logger.Warn("no CA certificate available, broker identity is NOT verified (degraded security)",
		"host", host,
	)
	return cfg, SourceFallback
}

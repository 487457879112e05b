package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// security 由配置得到 TLS 与 SASL 设置，未配置的部分为 nil
func security(cfg *Config) (*tls.Config, sasl.Mechanism, error) {
	var (
		tlsCfg    *tls.Config
		mechanism sasl.Mechanism
		err       error
	)
	if cfg.TLS != nil && cfg.TLS.Enable {
		if tlsCfg, err = newTLSConfig(cfg.TLS); err != nil {
			return nil, nil, err
		}
	}
	if cfg.SASL != nil && cfg.SASL.Username != "" {
		if mechanism, err = newSASLMechanism(cfg.SASL); err != nil {
			return nil, nil, err
		}
	}
	return tlsCfg, mechanism, nil
}

// newTransport Writer 使用的传输层
func newTransport(cfg *Config) (*kafka.Transport, error) {
	tlsCfg, mechanism, err := security(cfg)
	if err != nil {
		return nil, err
	}
	return &kafka.Transport{TLS: tlsCfg, SASL: mechanism}, nil
}

func newTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidConfig, cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func newSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "", "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("%w: unknown sasl mechanism %q", ErrInvalidConfig, cfg.Mechanism)
	}
}

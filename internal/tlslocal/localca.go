// Package tlslocal issues the certificates the HTTP API is served with when
// TLS is enabled: a local CA kept in the certs directory and a server
// certificate it signs. CLI commands trust the same CA.
package tlslocal

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	caCertFile     = "ca.pem"
	caKeyFile      = "ca.key"
	serverCertFile = "server.pem"
	serverKeyFile  = "server.key"

	caLifetime     = 10 * 365 * 24 * time.Hour
	serverLifetime = 365 * 24 * time.Hour
	clockSkew      = time.Hour
)

var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

type Options struct {
	Dir               string // e.g. ~/.nmhealth/certs
	RequireClientCert bool
	// Hosts are extra DNS names or IPs for the server certificate, on top
	// of localhost and the loopback addresses.
	Hosts []string
}

// EnsureServerTLSConfig creates the CA and server certificate on first use
// and reissues the server certificate when it doesn't cover opts.Hosts or
// has expired.
func EnsureServerTLSConfig(opts Options) (*tls.Config, error) {
	if opts.Dir == "" {
		return nil, errors.New("certs directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create certs directory: %w", err)
	}

	ca, err := readPair(opts.Dir, caCertFile, caKeyFile)
	if err != nil {
		if ca, err = newCA(); err != nil {
			return nil, fmt.Errorf("generate CA: %w", err)
		}
		if err := ca.write(opts.Dir, caCertFile, caKeyFile); err != nil {
			return nil, err
		}
	}

	hosts := append(append([]string(nil), loopbackHosts...), opts.Hosts...)
	leaf, err := readPair(opts.Dir, serverCertFile, serverKeyFile)
	if err != nil || !leaf.valid(ca, hosts) {
		if leaf, err = ca.issueServer(hosts); err != nil {
			return nil, fmt.Errorf("generate server cert: %w", err)
		}
		if err := leaf.write(opts.Dir, serverCertFile, serverKeyFile); err != nil {
			return nil, err
		}
	}

	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{leaf.tlsCertificate()},
		ClientCAs:    pool,
		NextProtos:   []string{"h2", "http/1.1"},
	}
	if opts.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientTLSConfig trusts the CA in dir. With clientCert the server
// certificate, which is also valid for client auth, is presented.
func ClientTLSConfig(dir string, clientCert bool) (*tls.Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, caCertFile))
	if err != nil {
		return nil, fmt.Errorf("load local CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("load local CA: no certificate in %s", caCertFile)
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
	if clientCert {
		leaf, err := readPair(dir, serverCertFile, serverKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{leaf.tlsCertificate()}
	}
	return cfg, nil
}

// keyPair is a certificate with its private key.
type keyPair struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newCA() (*keyPair, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "nmhealth local CA"},
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(caLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	return sign(tmpl, nil)
}

// issueServer signs a leaf for hosts, usable for both server and client auth.
func (ca *keyPair) issueServer(hosts []string) (*keyPair, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hosts[0]},
		NotBefore:    now.Add(-clockSkew),
		NotAfter:     now.Add(serverLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}
	return sign(tmpl, ca)
}

// sign creates a key and certifies it with parent, or self-signs when
// parent is nil.
func sign(tmpl *x509.Certificate, parent *keyPair) (*keyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	issuer, signer := tmpl, key
	if parent != nil {
		issuer, signer = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, signer)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &keyPair{cert: cert, key: key}, nil
}

// valid reports whether the pair was signed by ca, is within its validity
// window and names every host.
func (p *keyPair) valid(ca *keyPair, hosts []string) bool {
	if p.cert.CheckSignatureFrom(ca.cert) != nil || time.Now().After(p.cert.NotAfter) {
		return false
	}
	for _, h := range hosts {
		if p.cert.VerifyHostname(h) != nil {
			return false
		}
	}
	return true
}

func (p *keyPair) tlsCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{p.cert.Raw},
		PrivateKey:  p.key,
		Leaf:        p.cert,
	}
}

func (p *keyPair) write(dir, certName, keyName string) error {
	keyDER, err := x509.MarshalECPrivateKey(p.key)
	if err != nil {
		return err
	}
	files := map[string]*pem.Block{
		certName: {Type: "CERTIFICATE", Bytes: p.cert.Raw},
		keyName:  {Type: "EC PRIVATE KEY", Bytes: keyDER},
	}
	for name, block := range files {
		if err := os.WriteFile(filepath.Join(dir, name), pem.EncodeToMemory(block), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func readPair(dir, certName, keyName string) (*keyPair, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, certName))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyName))
	if err != nil {
		return nil, err
	}
	cert, err := parseCert(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", certName, err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM data", keyName)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyName, err)
	}
	return &keyPair{cert: cert, key: key}, nil
}

func parseCert(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no PEM certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

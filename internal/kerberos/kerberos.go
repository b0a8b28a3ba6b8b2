// Package kerberos obtains a ticket from a keytab and performs SPNEGO
// authenticated GETs against Hadoop web endpoints.
package kerberos

import (
	"context"
	"crypto/md5" //nolint:gosec // cache file naming only
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HostPlaceholder is substituted with the local host name in principals.
const HostPlaceholder = "_HOST"

// ErrAuthentication is wrapped by every ticket acquisition failure.
var ErrAuthentication = errors.New("kerberos authentication failed")

// Mode selects what a Requester returns.
type Mode int

const (
	// ModeLightweight returns the response body ready for decoding.
	ModeLightweight Mode = iota
	// ModeRaw returns the HTTP status code (and body) for diagnostics.
	ModeRaw
)

func (m Mode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "lightweight"
}

// Request describes one authenticated GET.
type Request struct {
	Keytab      string
	Principal   string
	URL         string
	CachePrefix string // ccache file prefix, e.g. "nm_health_summary_alert"
	CallerLabel string // used in log lines
	TempDir     string // directory searched for a kinit ccache; may be empty
	Timeout     time.Duration
}

// Response is the result of an authenticated GET.
type Response struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

// Requester is the ticket-and-request collaborator used by the evaluator.
type Requester interface {
	Get(ctx context.Context, req Request, mode Mode) (*Response, error)
}

// AuthError reports a failed ticket acquisition.
type AuthError struct {
	Principal string
	Keytab    string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unable to obtain kerberos ticket for %s using keytab %s: %v", e.Principal, e.Keytab, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuthentication, e.Err}
}

// TempDirProvider locates the directory holding credential caches.
type TempDirProvider interface {
	TempDir() (string, error)
}

// StaticTempDir is a fixed temp directory.
type StaticTempDir string

// TempDir returns the directory, creating it if needed.
func (d StaticTempDir) TempDir() (string, error) {
	dir := string(d)
	if dir == "" {
		return OSTempDir{}.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create temp directory %s: %w", dir, err)
	}
	return dir, nil
}

// OSTempDir uses os.TempDir().
type OSTempDir struct{}

// TempDir returns os.TempDir().
func (OSTempDir) TempDir() (string, error) {
	return os.TempDir(), nil
}

// SubstituteHost replaces the _HOST placeholder with hostName.
func SubstituteHost(principal, hostName string) string {
	return strings.ReplaceAll(principal, HostPlaceholder, hostName)
}

// SplitPrincipal splits "primary/instance@REALM" into the client name and
// realm. The realm is empty when the principal has none.
func SplitPrincipal(principal string) (name, realm string) {
	if idx := strings.LastIndex(principal, "@"); idx >= 0 {
		return principal[:idx], principal[idx+1:]
	}
	return principal, ""
}

// CCachePath returns the credential cache file for a keytab/principal pair:
// {tmp}/{prefix}_cc_{md5(keytab|principal)}.
func CCachePath(tmpDir, prefix, keytab, principal string) string {
	sum := md5.Sum([]byte(keytab + "|" + principal)) //nolint:gosec // not a security boundary
	if prefix == "" {
		prefix = "krb"
	}
	return filepath.Join(tmpDir, fmt.Sprintf("%s_cc_%s", prefix, hex.EncodeToString(sum[:])))
}

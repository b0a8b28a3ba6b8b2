package alert

import (
	"net"
	"strconv"
	"strings"
	"time"

	"nmhealth-go/internal/jmx"
	"nmhealth-go/internal/kerberos"
)

// Invocation is everything one evaluation receives from its caller.
type Invocation struct {
	// Configurations maps tokens to raw values. Unknown tokens are ignored.
	Configurations map[string]string
	// Parameters holds script parameters such as connection.timeout.
	Parameters map[string]string
	// HostName is the name of the invoking host. It replaces the host part of
	// the configured address and the _HOST placeholder in the principal.
	HostName string
}

// Security holds the Kerberos credentials of a secured cluster.
type Security struct {
	Keytab    string
	Principal string
}

// Resolved is the typed form of an Invocation.
type Resolved struct {
	Endpoint   jmx.Endpoint
	Security   *Security // nil means anonymous
	Timeout    time.Duration
	HTTPPolicy string
}

// Resolve validates an invocation and derives the endpoint, the optional
// security context and the timeout. It performs no I/O.
func Resolve(inv Invocation) (*Resolved, error) {
	if len(inv.Configurations) == 0 {
		return nil, newError(KindNoConfiguration, nil, noConfigurationMessage)
	}
	if strings.TrimSpace(inv.HostName) == "" {
		return nil, newError(KindMissingAddress, nil, "host name of the invoking host is empty")
	}

	timeout, err := resolveTimeout(inv.Parameters)
	if err != nil {
		return nil, err
	}

	policy := strings.TrimSpace(inv.Configurations[HTTPPolicyKey])
	scheme, addressKey := "http", HTTPAddressKey
	if policy == PolicyHTTPSOnly {
		scheme, addressKey = "https", HTTPSAddressKey
	}

	address := strings.TrimSpace(inv.Configurations[addressKey])
	if address == "" {
		return nil, newError(KindMissingAddress, nil, "%s is not configured (http policy %q)", addressKey, policy)
	}
	port, err := addressPort(address)
	if err != nil {
		return nil, newError(KindMissingAddress, err, "unable to determine port from %s value %q: %v", addressKey, address, err)
	}

	return &Resolved{
		Endpoint: jmx.Endpoint{
			Scheme: scheme,
			Host:   inv.HostName,
			Port:   port,
			Bean:   jmx.RMNMInfoBean,
		},
		Security:   resolveSecurity(inv.Configurations, inv.HostName),
		Timeout:    timeout,
		HTTPPolicy: policy,
	}, nil
}

// resolveSecurity returns nil unless security is enabled and both the keytab
// and the principal are configured.
func resolveSecurity(configurations map[string]string, hostName string) *Security {
	if !strings.EqualFold(strings.TrimSpace(configurations[SecurityEnabledKey]), "true") {
		return nil
	}
	keytab := strings.TrimSpace(configurations[KerberosKeytabKey])
	principal := strings.TrimSpace(configurations[KerberosPrincipalKey])
	if keytab == "" || principal == "" {
		return nil
	}
	return &Security{
		Keytab:    keytab,
		Principal: kerberos.SubstituteHost(principal, hostName),
	}
}

func resolveTimeout(parameters map[string]string) (time.Duration, error) {
	raw, ok := parameters[ConnectionTimeoutKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return DefaultConnectionTimeout, nil
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, newError(KindInvalidParameter, err, "invalid %s value %q: must be a number of seconds", ConnectionTimeoutKey, raw)
	}
	if seconds <= 0 {
		return DefaultConnectionTimeout, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// addressPort extracts the port from "host:port". The host part is discarded.
func addressPort(address string) (int, error) {
	// Tolerate a scheme in the configured value.
	if idx := strings.Index(address, "://"); idx >= 0 {
		address = address[idx+3:]
	}
	address = strings.TrimSuffix(address, "/")

	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, strconv.ErrRange
	}
	return port, nil
}

// Package alert implements the NodeManager health summary alert: it resolves
// the alert's configuration tokens, fetches the RMNMInfo roster from the
// ResourceManager and classifies it into a single AlertResult.
package alert

import "time"

// Configuration tokens, in the {{site/property}} form supplied by the
// orchestration system.
const (
	HTTPAddressKey       = "{{yarn-site/yarn.resourcemanager.webapp.address}}"
	HTTPSAddressKey      = "{{yarn-site/yarn.resourcemanager.webapp.https.address}}"
	HTTPPolicyKey        = "{{yarn-site/yarn.http.policy}}"
	KerberosKeytabKey    = "{{yarn-site/yarn.nodemanager.webapp.spnego-keytab-file}}"
	KerberosPrincipalKey = "{{yarn-site/yarn.nodemanager.webapp.spnego-principal}}"
	SecurityEnabledKey   = "{{cluster-env/security_enabled}}"
)

// Script parameters.
const (
	ConnectionTimeoutKey     = "connection.timeout"
	DefaultConnectionTimeout = 5 * time.Second
)

// HTTP policies
const (
	PolicyHTTPOnly  = "HTTP_ONLY"
	PolicyHTTPSOnly = "HTTPS_ONLY"
)

const (
	// Name is the alert label used in logs and kerberos requests.
	Name = "NodeManager Health Summary"

	kerberosCachePrefix = "nm_health_summary_alert"
)

// Tokens returns the configuration tokens the alert reads, in a stable order.
func Tokens() []string {
	return []string{
		HTTPAddressKey,
		HTTPSAddressKey,
		HTTPPolicyKey,
		KerberosKeytabKey,
		KerberosPrincipalKey,
		SecurityEnabledKey,
	}
}

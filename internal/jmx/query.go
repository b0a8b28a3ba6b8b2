// Package jmx builds ResourceManager JMX queries and decodes the NodeManager
// roster they return.
package jmx

import (
	"fmt"
	"net"
	"strconv"
)

const (
	// RMNMInfoBean is the ResourceManager bean carrying the NodeManager roster.
	RMNMInfoBean = "Hadoop:service=ResourceManager,name=RMNMInfo"

	// LiveNodeManagersProperty holds the roster as a JSON-encoded string.
	LiveNodeManagersProperty = "LiveNodeManagers"

	jmxPath = "/jmx"
)

// Endpoint is a resolved JMX connection target.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Bean   string `json:"bean"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// QueryURL returns {scheme}://{host}:{port}/jmx?qry=<bean>. The bean name is
// sent verbatim, the way the ResourceManager expects it.
func (e Endpoint) QueryURL() string {
	bean := e.Bean
	if bean == "" {
		bean = RMNMInfoBean
	}
	return fmt.Sprintf("%s://%s%s?qry=%s", e.Scheme, e.Address(), jmxPath, bean)
}

func (e Endpoint) String() string {
	return e.QueryURL()
}

package jmx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rmnmInfoBody is trimmed from a real ResourceManager response.
const rmnmInfoBody = `{
  "beans" : [ {
    "name" : "Hadoop:service=ResourceManager,name=RMNMInfo",
    "modelerType" : "org.apache.hadoop.yarn.server.resourcemanager.RMNMInfo",
    "LiveNodeManagers" : "[{\"HostName\":\"c6401.ambari.apache.org\",\"Rack\":\"/default-rack\",\"State\":\"RUNNING\",\"NodeId\":\"c6401.ambari.apache.org:45454\",\"NodeHTTPAddress\":\"c6401.ambari.apache.org:8042\",\"LastHealthUpdate\":1420234356468,\"HealthReport\":\"\",\"NodeManagerVersion\":\"2.6.0\",\"NumContainers\":0,\"UsedMemoryMB\":0,\"AvailableMemoryMB\":2048},{\"HostName\":\"c6402.ambari.apache.org\",\"Rack\":\"/default-rack\",\"State\":\"UNHEALTHY\",\"NodeId\":\"c6402.ambari.apache.org:45454\",\"NodeHTTPAddress\":\"c6402.ambari.apache.org:8042\",\"LastHealthUpdate\":1420234356468,\"HealthReport\":\"1/1 local-dirs are bad\",\"NodeManagerVersion\":\"2.6.0\",\"NumContainers\":0,\"UsedMemoryMB\":0,\"AvailableMemoryMB\":0}]"
  } ]
}`

func TestDecodeRoster(t *testing.T) {
	roster, err := DecodeRoster([]byte(rmnmInfoBody))
	require.NoError(t, err)
	require.Len(t, roster, 2)

	assert.Equal(t, "c6401.ambari.apache.org", roster[0].HostName)
	assert.Equal(t, "RUNNING", roster[0].State)
	assert.Equal(t, "c6401.ambari.apache.org:45454", roster[0].NodeID)
	assert.Equal(t, int64(1420234356468), roster[0].LastHealthUpdate)
	assert.Equal(t, float64(2048), roster[0].AvailableMemoryMB)

	assert.Equal(t, "UNHEALTHY", roster[1].State)
	assert.Equal(t, "1/1 local-dirs are bad", roster[1].HealthReport)
}

func TestDecodeRoster_EmptyRoster(t *testing.T) {
	roster, err := DecodeRoster([]byte(`{"beans":[{"LiveNodeManagers":"[]"}]}`))
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestDecodeRoster_OpaqueFieldTypeMismatch(t *testing.T) {
	body := `{"beans":[{"LiveNodeManagers":"[{\"State\":\"UNHEALTHY\",\"NumContainers\":\"many\"}]"}]}`
	roster, err := DecodeRoster([]byte(body))
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "UNHEALTHY", roster[0].State)
}

func TestDecodeRoster_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantStage string
	}{
		{name: "empty body", body: "", wantStage: "outer"},
		{name: "not json", body: "<html>Authentication required</html>", wantStage: "outer"},
		{name: "no beans", body: `{"beans":[]}`, wantStage: "outer"},
		{name: "beans not an array", body: `{"beans":{}}`, wantStage: "outer"},
		{name: "missing property", body: `{"beans":[{"name":"x"}]}`, wantStage: "outer"},
		{name: "property not a string", body: `{"beans":[{"LiveNodeManagers":[{"State":"RUNNING"}]}]}`, wantStage: "inner"},
		{name: "inner not json", body: `{"beans":[{"LiveNodeManagers":"not json"}]}`, wantStage: "inner"},
		{name: "inner not an array", body: `{"beans":[{"LiveNodeManagers":"{}"}]}`, wantStage: "inner"},
		{name: "entry without state", body: `{"beans":[{"LiveNodeManagers":"[{\"HostName\":\"a\"}]"}]}`, wantStage: "inner"},
		{name: "entry not an object", body: `{"beans":[{"LiveNodeManagers":"[1]"}]}`, wantStage: "inner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster, err := DecodeRoster([]byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, roster)
			assert.True(t, errors.Is(err, ErrDecode))

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.wantStage, decodeErr.Stage)
			assert.Contains(t, err.Error(), "convert response to json failed")
		})
	}
}

func TestEncodeRoster_NestsTwice(t *testing.T) {
	body, err := EncodeRoster([]RosterEntry{{HostName: "nm1", State: "RUNNING"}})
	require.NoError(t, err)

	raw, err := BeanProperty(body, LiveNodeManagersProperty)
	require.NoError(t, err)
	// The property is a JSON string, not an array.
	assert.Equal(t, byte('"'), raw[0])

	roster, err := DecodeRoster(body)
	require.NoError(t, err)
	assert.Equal(t, []RosterEntry{{HostName: "nm1", State: "RUNNING"}}, roster)
}

func TestEndpoint_QueryURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		want     string
	}{
		{
			name:     "http",
			endpoint: Endpoint{Scheme: "http", Host: "rm.example.com", Port: 8088},
			want:     "http://rm.example.com:8088/jmx?qry=Hadoop:service=ResourceManager,name=RMNMInfo",
		},
		{
			name:     "https with explicit bean",
			endpoint: Endpoint{Scheme: "https", Host: "rm.example.com", Port: 8090, Bean: RMNMInfoBean},
			want:     "https://rm.example.com:8090/jmx?qry=Hadoop:service=ResourceManager,name=RMNMInfo",
		},
		{
			name:     "ipv6 host",
			endpoint: Endpoint{Scheme: "http", Host: "::1", Port: 8088},
			want:     "http://[::1]:8088/jmx?qry=Hadoop:service=ResourceManager,name=RMNMInfo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.endpoint.QueryURL())
		})
	}
}

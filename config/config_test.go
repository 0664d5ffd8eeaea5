package config

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIPNet(s string) *net.IPNet {
	ipnet, err := stringToIPnet(s)
	if err != nil {
		panic(err)
	}
	return ipnet
}

var fullConfig = Config{
	Server: Server{
		HTTP: HTTP{
			ListenAddr:           ":9090",
			ReadTimeout:          Duration(30 * time.Second),
			WriteTimeout:         Duration(30 * time.Second),
			IdleTimeout:          Duration(5 * time.Minute),
			MaxRequestsPerSecond: 200,
		},
		HTTPS: HTTPS{
			ListenAddr: ":9443",
			CertFile:   "/etc/hitcounter/cert.pem",
			KeyFile:    "/etc/hitcounter/key.pem",
		},
		Metrics: Metrics{
			Namespace:       "visitors",
			AllowedNetworks: Networks{mustIPNet("127.0.0.1"), mustIPNet("10.0.0.0/8")},
		},
		Proxy: Proxy{
			Enable: true,
			Header: "X-Client-Ip",
		},
	},
	Store: Store{
		Kind:   KindRedis,
		Badger: defaultBadger,
		Redis: &Redis{
			Addresses: []string{"redis-1:6379", "redis-2:6379"},
			Username:  "counter",
			Password:  "s3cret",
			Key:       "visitors:total",
		},
		Heartbeat: HeartBeat{
			Interval: Duration(10 * time.Second),
			Timeout:  Duration(2 * time.Second),
		},
	},
	LogDebug: true,
}

func TestLoadConfig(t *testing.T) {
	var testCases = []struct {
		name     string
		file     string
		expected Config
	}{
		{
			"full description",
			"testdata/full.yml",
			fullConfig,
		},
		{
			"default values",
			"testdata/default.yml",
			defaultConfig,
		},
		{
			"empty file",
			"testdata/empty.yml",
			defaultConfig,
		},
		{
			"dynamodb with default table",
			"testdata/dynamodb.yml",
			Config{
				Server: defaultServer,
				Store: Store{
					Kind:   KindDynamoDB,
					Badger: defaultBadger,
					DynamoDB: &DynamoDB{
						Table:    "stats",
						Region:   "eu-west-1",
						Endpoint: "http://localhost:8000",
					},
					Heartbeat: defaultHeartbeat,
				},
			},
		},
		{
			"memory store keeps http defaults",
			"testdata/memory.yml",
			Config{
				Server: Server{
					HTTP: HTTP{
						ListenAddr:   "127.0.0.1:8000",
						ReadTimeout:  Duration(time.Minute),
						WriteTimeout: Duration(time.Minute),
						IdleTimeout:  Duration(10 * time.Minute),
					},
					Metrics: defaultMetrics,
				},
				Store: Store{
					Kind:      KindMemory,
					Badger:    defaultBadger,
					Heartbeat: defaultHeartbeat,
				},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := LoadFile(tc.file)
			require.NoError(t, err, "error parsing %s", tc.file)

			if diff := cmp.Diff(&tc.expected, c, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("unexpected config result for %s (-want +got):\n%s", tc.file, diff)
			}
		})
	}
}

func TestBadConfig(t *testing.T) {
	var testCases = []struct {
		name  string
		file  string
		error string
	}{
		{
			"non-existing file",
			"testdata/nonexistent.yml",
			"open testdata/nonexistent.yml: no such file or directory",
		},
		{
			"unknown store kind",
			"testdata/bad_kind.yml",
			"field `kind` must be one of \"badger\", \"redis\", \"dynamodb\" or \"memory\". Got \"sqlite\" instead",
		},
		{
			"redis section missing",
			"testdata/redis_missing.yml",
			"field `redis` must be set for store kind \"redis\"",
		},
		{
			"unknown field",
			"testdata/unknown_field.yml",
			"unknown fields in http: listen_tls",
		},
		{
			"https without certificate",
			"testdata/https_missing_cert.yml",
			"configuration `https` is missing. " +
				"Must be specified `https.cache_dir` for autocert " +
				"OR `https.key_file` and `https.cert_file` for already existing certs",
		},
		{
			"whole world network",
			"testdata/whole_world.yml",
			"suspicious mask specified \"0.0.0.0/0\". " +
				"If you want to allow all then just omit `allowed_networks` field",
		},
		{
			"proxy header without proxy",
			"testdata/proxy_disabled_header.yml",
			"field `header` requires `enable: true`",
		},
		{
			"bad duration",
			"testdata/bad_duration.yml",
			"cannot parse duration \"often\"",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(tc.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.error)
		})
	}
}

func TestConfigStringHidesPassword(t *testing.T) {
	c, err := LoadFile("testdata/full.yml")
	require.NoError(t, err)

	s := c.String()
	assert.False(t, strings.Contains(s, "s3cret"), "password leaked into %s", s)
	assert.Contains(t, s, "password: XXX")
	assert.Contains(t, s, "interval: 10s")
	assert.Contains(t, s, "- 10.0.0.0/8")

	// the original must stay untouched
	assert.Equal(t, "s3cret", c.Store.Redis.Password)
}

func TestNetworksContains(t *testing.T) {
	n := Networks{mustIPNet("127.0.0.1"), mustIPNet("10.0.0.0/8")}

	assert.True(t, n.Contains("127.0.0.1:5555"))
	assert.True(t, n.Contains("10.20.30.40:80"))
	assert.True(t, n.Contains("10.20.30.40"))
	assert.False(t, n.Contains("192.168.1.1:80"))
	assert.False(t, n.Contains("garbage"))

	var empty Networks
	assert.True(t, empty.Contains("192.168.1.1:80"))
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, KindBadger, c.Store.Kind)
	assert.Equal(t, ":8000", c.Server.HTTP.ListenAddr)

	c.Store.Kind = KindMemory
	assert.Equal(t, KindBadger, defaultConfig.Store.Kind, "Default must return a copy")
}

func TestStringToIPnet(t *testing.T) {
	ipnet, err := stringToIPnet("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10/32", ipnet.String())

	ipnet, err = stringToIPnet("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1/128", ipnet.String())

	for _, s := range []string{"0.0.0.0/0", "::/0"} {
		_, err = stringToIPnet(s)
		assert.ErrorContains(t, err, "suspicious mask specified")
	}

	_, err = stringToIPnet("localhost")
	assert.ErrorContains(t, err, `wrong network group name or address "localhost"`)
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v2"
)

var (
	defaultConfig = Config{
		Server: defaultServer,
		Store:  defaultStore,
	}

	defaultServer = Server{
		HTTP:    defaultHTTP,
		Metrics: defaultMetrics,
	}

	defaultHTTP = HTTP{
		ListenAddr:   ":8000",
		ReadTimeout:  Duration(time.Minute),
		WriteTimeout: Duration(time.Minute),
		IdleTimeout:  Duration(10 * time.Minute),
	}

	defaultMetrics = Metrics{
		Namespace: "hitcounter",
	}

	defaultStore = Store{
		Kind:      KindBadger,
		Badger:    defaultBadger,
		Heartbeat: defaultHeartbeat,
	}

	defaultBadger = Badger{
		Path:       "data/counter",
		SyncWrites: true,
	}

	defaultRedis = Redis{
		Key: "hitcounter:total",
	}

	defaultDynamoDB = DynamoDB{
		Table: "stats",
	}

	defaultHeartbeat = HeartBeat{
		Interval: Duration(5 * time.Second),
		Timeout:  Duration(3 * time.Second),
	}
)

// Config describes the counter service: where it listens
// and which medium keeps the counter value.
type Config struct {
	Server Server `yaml:"server,omitempty"`

	Store Store `yaml:"store,omitempty"`

	// Whether to print debug logs
	LogDebug bool `yaml:"log_debug,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// String implements the Stringer interface
func (c *Config) String() string {
	b, err := yaml.Marshal(withoutSensitiveInfo(c))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func withoutSensitiveInfo(config *Config) *Config {
	const pswPlaceHolder = "XXX"

	c := deepcopy.Copy(config).(*Config)
	if c.Store.Redis != nil && len(c.Store.Redis.Password) > 0 {
		c.Store.Redis.Password = pswPlaceHolder
	}
	return c
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// set c to the defaults and then overwrite it with the input.
	*c = defaultConfig
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "config")
}

// Server describes configuration of the listeners
type Server struct {
	// Optional HTTP configuration
	HTTP HTTP `yaml:"http,omitempty"`

	// Optional TLS configuration
	HTTPS HTTPS `yaml:"https,omitempty"`

	// Optional metrics handler configuration
	Metrics Metrics `yaml:"metrics,omitempty"`

	// Optional reverse proxy configuration
	Proxy Proxy `yaml:"proxy,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*s = defaultServer
	type plain Server
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}

	if len(s.HTTP.ListenAddr) == 0 && len(s.HTTPS.ListenAddr) == 0 {
		return fmt.Errorf("neither HTTP nor HTTPS not configured")
	}

	return checkOverflow(s.XXX, "server")
}

// HTTP describes configuration for server to listen HTTP connections
type HTTP struct {
	// TCP address to listen to for http
	ListenAddr string `yaml:"listen_addr"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout Duration `yaml:"read_timeout,omitempty"`

	// Maximum duration before timing out writes of the response
	WriteTimeout Duration `yaml:"write_timeout,omitempty"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`

	// Maximum number of /hit and /current requests served per second
	// if omitted or zero - no limits would be applied
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*h = defaultHTTP
	type plain HTTP
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if h.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("field `max_requests_per_second` must be positive, got %v", h.MaxRequestsPerSecond)
	}

	return checkOverflow(h.XXX, "http")
}

// HTTPS describes configuration for server to listen HTTPS connections
// It can be autocert with letsencrypt
// or custom certificate
type HTTPS struct {
	// TCP address to listen to for https
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// Certificate and key files for client cert authentication to the server
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	Autocert Autocert `yaml:"autocert,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTPS) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTPS
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if len(h.ListenAddr) == 0 {
		h.ListenAddr = ":8443"
	}

	if len(h.Autocert.CacheDir) > 0 {
		if len(h.CertFile) > 0 || len(h.KeyFile) > 0 {
			return fmt.Errorf("it is forbidden to specify certificate and `https.autocert` at the same time. Choose one way")
		}
	} else if len(h.CertFile) == 0 || len(h.KeyFile) == 0 {
		return fmt.Errorf("configuration `https` is missing. " +
			"Must be specified `https.cache_dir` for autocert " +
			"OR `https.key_file` and `https.cert_file` for already existing certs")
	}

	return checkOverflow(h.XXX, "https")
}

// Autocert configuration via letsencrypt
// It requires port :80 to be open
// see https://community.letsencrypt.org/t/2018-01-11-update-regarding-acme-tls-sni-and-domain-validation/48522
type Autocert struct {
	// Path to the directory where autocert certs are cached
	CacheDir string `yaml:"cache_dir,omitempty"`

	// The list of host names proxy is allowed to respond to
	// see https://godoc.org/golang.org/x/crypto/acme/autocert#HostPolicy
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Autocert) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Autocert
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "autocert")
}

// Metrics describes configuration to access metrics endpoint
type Metrics struct {
	// Prefix of every exported metric name
	Namespace string `yaml:"namespace,omitempty"`

	// List of networks that access is allowed from
	// Each list item could be IP address or subnet mask
	// if omitted or zero - no limits would be applied
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (m *Metrics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*m = defaultMetrics
	type plain Metrics
	if err := unmarshal((*plain)(m)); err != nil {
		return err
	}
	return checkOverflow(m.XXX, "metrics")
}

// Proxy describes the reverse proxy the service runs behind
type Proxy struct {
	// Enable takes the client address from the proxy headers
	// instead of the connection
	Enable bool `yaml:"enable,omitempty"`

	// Header is the header carrying the client address.
	// If omitted, X-Forwarded-For, X-Real-Ip and Forwarded are checked in that order
	Header string `yaml:"header,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (p *Proxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Proxy
	if err := unmarshal((*plain)(p)); err != nil {
		return err
	}

	if len(p.Header) > 0 && !p.Enable {
		return fmt.Errorf("field `header` requires `enable: true`")
	}

	return checkOverflow(p.XXX, "proxy")
}

// Kind names a counter store backend
type Kind string

const (
	KindBadger   Kind = "badger"
	KindRedis    Kind = "redis"
	KindDynamoDB Kind = "dynamodb"
	KindMemory   Kind = "memory"
)

// Store describes the medium that keeps the counter
// Exactly one backend is used, selected by `kind`
type Store struct {
	// Backend name: `badger`, `redis`, `dynamodb` or `memory`
	// default value is `badger`
	Kind Kind `yaml:"kind,omitempty"`

	Badger   Badger    `yaml:"badger,omitempty"`
	Redis    *Redis    `yaml:"redis,omitempty"`
	DynamoDB *DynamoDB `yaml:"dynamodb,omitempty"`

	// Configures store health checking
	Heartbeat HeartBeat `yaml:"heartbeat,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Store) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*s = defaultStore
	type plain Store
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}

	switch s.Kind {
	case KindBadger, KindMemory:
	case KindRedis:
		if s.Redis == nil {
			return fmt.Errorf("field `redis` must be set for store kind %q", s.Kind)
		}
	case KindDynamoDB:
		if s.DynamoDB == nil {
			return fmt.Errorf("field `dynamodb` must be set for store kind %q", s.Kind)
		}
	default:
		return fmt.Errorf("field `kind` must be one of %q, %q, %q or %q. Got %q instead",
			KindBadger, KindRedis, KindDynamoDB, KindMemory, s.Kind)
	}

	return checkOverflow(s.XXX, "store")
}

// Badger configures the embedded on-disk store
type Badger struct {
	// Directory for the database files; created if missing
	Path string `yaml:"path,omitempty"`

	// Whether every commit is fsynced before it is acknowledged
	SyncWrites bool `yaml:"sync_writes,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (b *Badger) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*b = defaultBadger
	type plain Badger
	if err := unmarshal((*plain)(b)); err != nil {
		return err
	}

	if len(b.Path) == 0 {
		return fmt.Errorf("field `path` must be set for badger store")
	}

	return checkOverflow(b.XXX, "badger")
}

// Redis configures the redis store
type Redis struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`

	// Key holding the counter value
	Key string `yaml:"key,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Redis) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*r = defaultRedis
	type plain Redis
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("field `addresses` must contain at least 1 address")
	}

	return checkOverflow(r.XXX, "redis")
}

// DynamoDB configures the DynamoDB store
// The table must have a numeric partition key named `id`
type DynamoDB struct {
	Table string `yaml:"table,omitempty"`

	// AWS region; falls back to the default AWS config chain
	Region string `yaml:"region,omitempty"`

	// Custom endpoint, e.g. for dynamodb-local
	Endpoint string `yaml:"endpoint,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *DynamoDB) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*d = defaultDynamoDB
	type plain DynamoDB
	if err := unmarshal((*plain)(d)); err != nil {
		return err
	}

	if len(d.Table) == 0 {
		return fmt.Errorf("field `table` must be set for dynamodb store")
	}

	return checkOverflow(d.XXX, "dynamodb")
}

// HeartBeat describes the store health check
type HeartBeat struct {
	// Interval is an interval of checking
	// the store for availability
	// if omitted - interval will be set to 5s
	Interval Duration `yaml:"interval,omitempty"`

	// Timeout is a timeout of wait response from store
	// if omitted - timeout will be set to 3s
	Timeout Duration `yaml:"timeout,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HeartBeat) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*h = defaultHeartbeat
	type plain HeartBeat
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if h.Interval <= 0 || h.Timeout <= 0 {
		return fmt.Errorf("fields `interval` and `timeout` must be positive")
	}

	return checkOverflow(h.XXX, "heartbeat")
}

// Loads and validates configuration from provided .yml file
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	// an empty document never reaches UnmarshalYAML
	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when every section is omitted.
func Default() *Config {
	return deepcopy.Copy(&defaultConfig).(*Config)
}

func checkOverflow(m map[string]interface{}, ctx string) error {
	if len(m) > 0 {
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return fmt.Errorf("unknown fields in %s: %s", ctx, strings.Join(keys, ", "))
	}
	return nil
}

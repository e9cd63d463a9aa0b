package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Node struct {
		// Identidad del nodo: transport.MemberID y raft ServerID.
		ID string `yaml:"id"`
	} `yaml:"node"`

	Cluster struct {
		Mode     string            `yaml:"mode"` // off | embedded
		RaftAddr string            `yaml:"raft_addr"`
		RaftDir  string            `yaml:"raft_dir"`
		Nodes    map[string]string `yaml:"nodes"` // nodeID -> host:port (raft)
		// Solo para nodos que se suman a un cluster existente.
		DisableBootstrap bool `yaml:"disable_bootstrap"`
		// Resync del directorio contra la configuración de raft.
		Resync time.Duration `yaml:"resync"`

		// Miembros fijos cuando mode=off.
		Members []string `yaml:"members"`

		// TLS for Raft transport (optional, mTLS when enabled)
		RaftTLSEnable     bool   `yaml:"raft_tls_enable"`
		RaftTLSCertFile   string `yaml:"raft_tls_cert_file"`
		RaftTLSKeyFile    string `yaml:"raft_tls_key_file"`
		RaftTLSCAFile     string `yaml:"raft_tls_ca_file"`
		RaftTLSServerName string `yaml:"raft_tls_server_name"`
	} `yaml:"cluster"`

	Transport struct {
		Kind           string        `yaml:"kind"` // memory | redis
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Redis          struct {
			Addr     string `yaml:"addr"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"transport"`

	Stream struct {
		OpenAttempts   int           `yaml:"open_attempts"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		NotifyOnRemove *bool         `yaml:"notify_on_remove"`
		PushTimeout    time.Duration `yaml:"push_timeout"`
	} `yaml:"stream"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Load lee path (si no está vacío), aplica env y defaults y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Node.ID == "" {
		if h, err := os.Hostname(); err == nil {
			c.Node.ID = h
		}
	}
	if c.Cluster.Mode == "" {
		c.Cluster.Mode = "off"
	}
	if c.Cluster.RaftDir == "" {
		c.Cluster.RaftDir = "data/raft"
	}
	if c.Cluster.Resync == 0 {
		c.Cluster.Resync = 30 * time.Second
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "memory"
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = 5 * time.Second
	}
	if c.Transport.Redis.Addr == "" {
		c.Transport.Redis.Addr = "localhost:6379"
	}
	if c.Transport.Redis.Prefix == "" {
		c.Transport.Redis.Prefix = "streamhub"
	}
	if c.Stream.OpenAttempts == 0 {
		c.Stream.OpenAttempts = 1
	}
	if c.Stream.RetryBackoff == 0 {
		c.Stream.RetryBackoff = 500 * time.Millisecond
	}
	if c.Stream.NotifyOnRemove == nil {
		v := true
		c.Stream.NotifyOnRemove = &v
	}
	if c.Stream.PushTimeout == 0 {
		c.Stream.PushTimeout = 5 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9090"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("NODE_ID"); ok {
		c.Node.ID = v
	}

	// CLUSTER
	if v, ok := getEnvStr("CLUSTER_MODE"); ok {
		c.Cluster.Mode = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CLUSTER_RAFT_ADDR"); ok {
		c.Cluster.RaftAddr = v
	}
	if v, ok := getEnvStr("CLUSTER_RAFT_DIR"); ok {
		c.Cluster.RaftDir = v
	}
	if v, ok := getEnvKVList("CLUSTER_NODES", ";"); ok {
		c.Cluster.Nodes = v
	}
	if v, ok := getEnvBool("CLUSTER_DISABLE_BOOTSTRAP"); ok {
		c.Cluster.DisableBootstrap = v
	}
	if v, ok := getEnvDur("CLUSTER_RESYNC"); ok {
		c.Cluster.Resync = v
	}
	if v, ok := getEnvCSV("CLUSTER_MEMBERS"); ok {
		c.Cluster.Members = v
	}
	if v, ok := getEnvBool("RAFT_TLS_ENABLE"); ok {
		c.Cluster.RaftTLSEnable = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CERT_FILE"); ok {
		c.Cluster.RaftTLSCertFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_KEY_FILE"); ok {
		c.Cluster.RaftTLSKeyFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_CA_FILE"); ok {
		c.Cluster.RaftTLSCAFile = v
	}
	if v, ok := getEnvStr("RAFT_TLS_SERVER_NAME"); ok {
		c.Cluster.RaftTLSServerName = v
	}

	// TRANSPORT
	if v, ok := getEnvStr("TRANSPORT_KIND"); ok {
		c.Transport.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvDur("TRANSPORT_REQUEST_TIMEOUT"); ok {
		c.Transport.RequestTimeout = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Transport.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Transport.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Transport.Redis.Password = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Transport.Redis.Prefix = v
	}

	// STREAM
	if v, ok := getEnvInt("STREAM_OPEN_ATTEMPTS"); ok {
		c.Stream.OpenAttempts = v
	}
	if v, ok := getEnvDur("STREAM_RETRY_BACKOFF"); ok {
		c.Stream.RetryBackoff = v
	}
	if v, ok := getEnvBool("STREAM_NOTIFY_ON_REMOVE"); ok {
		c.Stream.NotifyOnRemove = &v
	}
	if v, ok := getEnvDur("STREAM_PUSH_TIMEOUT"); ok {
		c.Stream.PushTimeout = v
	}

	// HTTP
	if v, ok := getEnvStr("HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
}

// Validate revisa combinaciones que no se pueden arrancar.
func (c *Config) Validate() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("node.id is required"))
	}
	switch c.Cluster.Mode {
	case "off":
	case "embedded":
		if c.Cluster.RaftAddr == "" {
			errs = append(errs, errors.New("cluster.raft_addr is required in embedded mode"))
		}
		if c.Cluster.RaftTLSEnable && (c.Cluster.RaftTLSCertFile == "" || c.Cluster.RaftTLSKeyFile == "" || c.Cluster.RaftTLSCAFile == "") {
			errs = append(errs, errors.New("cluster.raft_tls_* cert, key and ca files are required when TLS is enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("cluster.mode %q: want off|embedded", c.Cluster.Mode))
	}
	switch c.Transport.Kind {
	case "memory":
		if c.Cluster.Mode == "embedded" {
			errs = append(errs, errors.New("transport.kind=memory only works with cluster.mode=off"))
		}
	case "redis":
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: want memory|redis", c.Transport.Kind))
	}
	if c.Stream.OpenAttempts < 1 {
		errs = append(errs, errors.New("stream.open_attempts must be >= 1"))
	}
	if c.Stream.RetryBackoff < 0 {
		errs = append(errs, errors.New("stream.retry_backoff must be >= 0"))
	}
	return errors.Join(errs...)
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	// TrustForwardedFor keys callers by the first X-Forwarded-For hop.
	TrustForwardedFor bool `yaml:"trust_x_forwarded_for"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Limits struct {
	// ChatPerMinute caps /chat per user id or origin.
	ChatPerMinute int `yaml:"chat_per_minute"`
	// PassthroughPerMinute caps each map route per origin.
	PassthroughPerMinute int `yaml:"passthrough_per_minute"`
	SweepEverySec        int `yaml:"sweep_every_sec"`
}

type Generative struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type Google struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// UsersCollection holds one document per device with token and role.
	UsersCollection string `yaml:"users_collection"`
	VisionAPIKey    string `yaml:"vision_api_key"`
	MapsAPIKey      string `yaml:"maps_api_key"`
	PushPerSecond   int    `yaml:"push_per_second"`
}

type Route struct {
	ID        string   `yaml:"id"`
	Prefix    string   `yaml:"path_prefix"`
	Methods   []string `yaml:"methods"`
	Upstream  string   `yaml:"upstream"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Generative    Generative    `yaml:"generative"`
	Google        Google        `yaml:"google"`
	Routes        []Route       `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout leaves room for the 20s generative call.
func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 1 << 20
	}
	return s.MaxBodyBytes
} // default 1MB

func (g Generative) Timeout() time.Duration {
	return time.Duration(g.TimeoutMS) * time.Millisecond
}

// Configured reports whether the generative upstream can be called.
func (g Generative) Configured() bool {
	return g.APIKey != "" && g.Model != ""
}

func (l Limits) SweepEvery() time.Duration {
	return time.Duration(l.SweepEverySec) * time.Second
}

func (r Route) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// DefaultRoutes is the map family relayed when the file lists none.
func DefaultRoutes() []Route {
	return []Route{
		{ID: "geocode", Prefix: "/maps/geocode", Methods: []string{"GET"}, Upstream: "https://maps.googleapis.com/maps/api/geocode"},
		{ID: "directions", Prefix: "/maps/directions", Methods: []string{"GET"}, Upstream: "https://maps.googleapis.com/maps/api/directions"},
		{ID: "places", Prefix: "/maps/places", Methods: []string{"GET"}, Upstream: "https://maps.googleapis.com/maps/api/place"},
	}
}

// Load reads the optional YAML file at path, then .env, then the process
// environment. Later sources win.
func Load(path string) (*Root, error) {
	var cfg Root
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Root) error {
	if v := env("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	setString(&cfg.Observability.LogLevel, "LOG_LEVEL")
	setString(&cfg.Generative.Endpoint, "STUDIO_API_URL")
	setString(&cfg.Generative.APIKey, "STUDIO_API_KEY")
	setString(&cfg.Generative.Model, "STUDIO_MODEL")
	setString(&cfg.Google.ProjectID, "GOOGLE_CLOUD_PROJECT")
	setString(&cfg.Google.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&cfg.Google.VisionAPIKey, "VISION_API_KEY")
	setString(&cfg.Google.MapsAPIKey, "MAPS_API_KEY")

	if err := setInt(&cfg.Limits.ChatPerMinute, "MAX_PER_MINUTE"); err != nil {
		return err
	}
	if err := setInt(&cfg.Limits.PassthroughPerMinute, "PASSTHROUGH_PER_MINUTE"); err != nil {
		return err
	}
	if v := env("TRUST_X_FORWARDED_FOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TRUST_X_FORWARDED_FOR: %w", err)
		}
		cfg.Server.TrustForwardedFor = b
	}
	return nil
}

func applyDefaults(cfg *Root) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.ChatPerMinute <= 0 {
		cfg.Limits.ChatPerMinute = 30
	}
	if cfg.Limits.PassthroughPerMinute <= 0 {
		cfg.Limits.PassthroughPerMinute = cfg.Limits.ChatPerMinute
	}
	if cfg.Limits.SweepEverySec <= 0 {
		cfg.Limits.SweepEverySec = 120
	}
	if cfg.Generative.Model == "" {
		cfg.Generative.Model = "gemini-1.5-flash"
	}
	if cfg.Generative.TimeoutMS <= 0 {
		cfg.Generative.TimeoutMS = 20000
	}
	if cfg.Google.UsersCollection == "" {
		cfg.Google.UsersCollection = "users"
	}
	if cfg.Google.PushPerSecond <= 0 {
		cfg.Google.PushPerSecond = 50
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].TimeoutMS <= 0 {
			cfg.Routes[i].TimeoutMS = 10000
		}
		if len(cfg.Routes[i].Methods) == 0 {
			cfg.Routes[i].Methods = []string{"GET"}
		}
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := env(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

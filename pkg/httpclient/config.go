package httpclient

import (
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"turbohttp/internal/replay"
)

// ConfigFile is the on-disk shape of Options, grounded on the teacher's own
// internal/config/parser.go (yaml.Unmarshal into a typed struct).
type ConfigFile struct {
	Pool struct {
		PerOriginMax int           `yaml:"per_origin_max"`
		GlobalMax    int           `yaml:"global_max"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"pool"`

	Cache struct {
		Enable                     bool          `yaml:"enable"`
		CacheHeadRequests          bool          `yaml:"cache_head_requests"`
		EnableRevalidation         bool          `yaml:"enable_revalidation"`
		DoNotCacheWithoutFreshness bool          `yaml:"do_not_cache_without_freshness"`
		EnableHeuristicFreshness   bool          `yaml:"enable_heuristic_freshness"`
		HeuristicFreshnessLifetime time.Duration `yaml:"heuristic_freshness_lifetime"`
		AllowPrivateResponses      bool          `yaml:"allow_private_responses"`
	} `yaml:"cache"`

	Replay struct {
		Mode          string `yaml:"mode"`
		RecordingPath string `yaml:"recording_path"`
	} `yaml:"replay"`

	Logging struct {
		Level    string `yaml:"level"`
		FilePath string `yaml:"file_path"`
	} `yaml:"logging"`

	Metrics        bool          `yaml:"metrics"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoadConfig reads and parses a YAML config file into Options, per spec
// §6's ClientOptions file loading.
func LoadConfig(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return Options{}, err
	}
	return cf.toOptions(), nil
}

func (cf ConfigFile) toOptions() Options {
	opts := DefaultOptions()
	if cf.Pool.PerOriginMax > 0 {
		opts.Pool.PerOriginMax = cf.Pool.PerOriginMax
	}
	if cf.Pool.GlobalMax > 0 {
		opts.Pool.GlobalMax = cf.Pool.GlobalMax
	}
	if cf.Pool.IdleTimeout > 0 {
		opts.Pool.IdleTimeout = cf.Pool.IdleTimeout
	}

	opts.Cache.EnableCache = cf.Cache.Enable
	opts.Cache.CacheHeadRequests = cf.Cache.CacheHeadRequests
	opts.Cache.EnableRevalidation = cf.Cache.EnableRevalidation
	opts.Cache.DoNotCacheWithoutFreshness = cf.Cache.DoNotCacheWithoutFreshness
	opts.Cache.EnableHeuristicFreshness = cf.Cache.EnableHeuristicFreshness
	if cf.Cache.HeuristicFreshnessLifetime > 0 {
		opts.Cache.HeuristicFreshnessLifetime = cf.Cache.HeuristicFreshnessLifetime
	}
	opts.Cache.AllowPrivateResponses = cf.Cache.AllowPrivateResponses

	if cf.Replay.Mode != "" {
		opts.Replay.Mode = replay.Mode(cf.Replay.Mode)
		opts.Replay.RecordingPath = cf.Replay.RecordingPath
		opts.Replay.Redaction = replay.DefaultRedactionPolicy()
	}

	opts.Logging.Level = cf.Logging.Level
	opts.Logging.FilePath = cf.Logging.FilePath
	opts.Metrics = cf.Metrics
	if cf.RequestTimeout > 0 {
		opts.RequestTimeout = cf.RequestTimeout
	}
	return opts
}

// OverlayFromMap decodes loosely-typed overlay values (CLI flags, env,
// embedded maps) onto opts via mapstructure, letting callers layer partial
// overrides on top of a loaded or default Options without hand-written
// field-by-field plumbing.
func OverlayFromMap(opts *Options, overlay map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(overlay)
}

// Package config defines the configuration structures for molgfn: run
// parameters, trainer hyperparameters and the optional infrastructure
// adapters.  No I/O lives here, only plain data types and validation.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Task names.
const (
	TaskSEHFrag    = "seh_frag"
	TaskSEHFragMOO = "seh_frag_moo"
)

// Algorithm names.
const (
	AlgoTB          = "TB"
	AlgoSQL         = "SQL"
	AlgoA2C         = "A2C"
	AlgoMOQL        = "MOQL"
	AlgoMOREINFORCE = "MOREINFORCE"
)

// Temperature distribution families.
const (
	TemperatureConstant   = "constant"
	TemperatureGamma      = "gamma"
	TemperatureUniform    = "uniform"
	TemperatureLogUniform = "loguniform"
	TemperatureBeta       = "beta"
)

// Preference types for validation conditioning.
const (
	PreferenceNone         = "none"
	PreferenceDirichlet    = "dirichlet"
	PreferenceSeededSingle = "seeded_single"
	PreferenceSeededMany   = "seeded_many"
)

// Invalid trajectory handling policies.
const (
	InvalidPenalize = "penalize"
	InvalidExclude  = "exclude"
)

// Results store kinds.
const (
	StoreNone     = "none"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Known objective names.
var KnownObjectives = []string{"seh", "qed", "sa", "mw"}

// ─────────────────────────────────────────────────────────────────────────────
// Hyperparameters
// ─────────────────────────────────────────────────────────────────────────────

// Hyperparameters is the in-process configuration record of a training run.
// Key names follow the historical hps dictionary so persisted hps.json files
// stay comparable across implementations.
type Hyperparameters struct {
	Task     string `mapstructure:"task" json:"task" yaml:"task"`
	Algo     string `mapstructure:"algo" json:"algo" yaml:"algo"`
	Hostname string `mapstructure:"hostname" json:"hostname" yaml:"hostname"`
	Version  string `mapstructure:"version" json:"version" yaml:"version"`
	Seed     int64  `mapstructure:"seed" json:"seed" yaml:"seed"`

	LearningRate  float64 `mapstructure:"learning_rate" json:"learning_rate" yaml:"learning_rate"`
	ZLearningRate float64 `mapstructure:"Z_learning_rate" json:"Z_learning_rate" yaml:"Z_learning_rate"`
	LRDecay       float64 `mapstructure:"lr_decay" json:"lr_decay" yaml:"lr_decay"`
	ZLRDecay      float64 `mapstructure:"Z_lr_decay" json:"Z_lr_decay" yaml:"Z_lr_decay"`
	WeightDecay   float64 `mapstructure:"weight_decay" json:"weight_decay" yaml:"weight_decay"`
	Momentum      float64 `mapstructure:"momentum" json:"momentum" yaml:"momentum"`
	AdamEps       float64 `mapstructure:"adam_eps" json:"adam_eps" yaml:"adam_eps"`
	ClipGradType  string  `mapstructure:"clip_grad_type" json:"clip_grad_type" yaml:"clip_grad_type"`
	ClipGradParam float64 `mapstructure:"clip_grad_param" json:"clip_grad_param" yaml:"clip_grad_param"`

	GlobalBatchSize      int     `mapstructure:"global_batch_size" json:"global_batch_size" yaml:"global_batch_size"`
	NumTrainingSteps     int     `mapstructure:"num_training_steps" json:"num_training_steps" yaml:"num_training_steps"`
	ValidateEvery        int     `mapstructure:"validate_every" json:"validate_every" yaml:"validate_every"`
	NumDataLoaderWorkers int     `mapstructure:"num_data_loader_workers" json:"num_data_loader_workers" yaml:"num_data_loader_workers"`
	OfflineRatio         float64 `mapstructure:"offline_ratio" json:"offline_ratio" yaml:"offline_ratio"`

	NumEmb    int `mapstructure:"num_emb" json:"num_emb" yaml:"num_emb"`
	NumLayers int `mapstructure:"num_layers" json:"num_layers" yaml:"num_layers"`

	TBEpsilon              float64 `mapstructure:"tb_epsilon" json:"tb_epsilon" yaml:"tb_epsilon"`
	TBPBIsParameterized    bool    `mapstructure:"tb_p_b_is_parameterized" json:"tb_p_b_is_parameterized" yaml:"tb_p_b_is_parameterized"`
	IllegalActionLogReward float64 `mapstructure:"illegal_action_logreward" json:"illegal_action_logreward" yaml:"illegal_action_logreward"`
	InvalidTrajectories    string  `mapstructure:"invalid_trajectories" json:"invalid_trajectories" yaml:"invalid_trajectories"`

	A2CEntropy    float64 `mapstructure:"a2c_entropy" json:"a2c_entropy" yaml:"a2c_entropy"`
	A2CValueCoef  float64 `mapstructure:"a2c_value_coef" json:"a2c_value_coef" yaml:"a2c_value_coef"`
	A2CGamma      float64 `mapstructure:"a2c_gamma" json:"a2c_gamma" yaml:"a2c_gamma"`
	A2CBootstrap  bool    `mapstructure:"a2c_bootstrap" json:"a2c_bootstrap" yaml:"a2c_bootstrap"`
	MOQLLambda    float64 `mapstructure:"moql_lambda" json:"moql_lambda" yaml:"moql_lambda"`
	MOQLEnvelopeK int     `mapstructure:"moql_envelope_k" json:"moql_envelope_k" yaml:"moql_envelope_k"`

	TemperatureSampleDist string    `mapstructure:"temperature_sample_dist" json:"temperature_sample_dist" yaml:"temperature_sample_dist"`
	TemperatureDistParams []float64 `mapstructure:"temperature_dist_params" json:"temperature_dist_params" yaml:"temperature_dist_params"`
	NumThermometerDim     int       `mapstructure:"num_thermometer_dim" json:"num_thermometer_dim" yaml:"num_thermometer_dim"`

	RandomActionProb      float64 `mapstructure:"random_action_prob" json:"random_action_prob" yaml:"random_action_prob"`
	ValidRandomActionProb float64 `mapstructure:"valid_random_action_prob" json:"valid_random_action_prob" yaml:"valid_random_action_prob"`
	SamplingTau           float64 `mapstructure:"sampling_tau" json:"sampling_tau" yaml:"sampling_tau"`
	MaxNodes              int     `mapstructure:"max_nodes" json:"max_nodes" yaml:"max_nodes"`
	MaxLen                int     `mapstructure:"max_len" json:"max_len" yaml:"max_len"`

	Objectives            []string `mapstructure:"objectives" json:"objectives" yaml:"objectives"`
	NValidPrefs           int      `mapstructure:"n_valid_prefs" json:"n_valid_prefs" yaml:"n_valid_prefs"`
	NValidRepeatsPerPref  int      `mapstructure:"n_valid_repeats_per_pref" json:"n_valid_repeats_per_pref" yaml:"n_valid_repeats_per_pref"`
	PreferenceType        string   `mapstructure:"preference_type" json:"preference_type" yaml:"preference_type"`
	UsePrefThermometer    bool     `mapstructure:"use_pref_thermometer" json:"use_pref_thermometer" yaml:"use_pref_thermometer"`
	ExperimentalDirichlet bool     `mapstructure:"experimental_dirichlet" json:"experimental_dirichlet" yaml:"experimental_dirichlet"`
	TopK                  int      `mapstructure:"top_k" json:"top_k" yaml:"top_k"`
	StatsKeep             int      `mapstructure:"stats_keep" json:"stats_keep" yaml:"stats_keep"`

	// Populated from RunConfig before persisting.
	LogDir     string `mapstructure:"-" json:"log_dir" yaml:"log_dir"`
	DataDir    string `mapstructure:"-" json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	Part       *int   `mapstructure:"-" json:"part,omitempty" yaml:"part,omitempty"`
	TotalParts int    `mapstructure:"-" json:"total_parts,omitempty" yaml:"total_parts,omitempty"`
}

// MultiObjective reports whether the task scalarizes several objectives.
func (h *Hyperparameters) MultiObjective() bool {
	return h.Task == TaskSEHFragMOO
}

// NumObjectives is the width of the flat reward rows.
func (h *Hyperparameters) NumObjectives() int {
	if h.MultiObjective() {
		return len(h.Objectives)
	}
	return 1
}

// NumCondDim is the width of the conditioning encoding fed to the model.
func (h *Hyperparameters) NumCondDim() int {
	if !h.MultiObjective() {
		return h.NumThermometerDim
	}
	if h.UsePrefThermometer {
		return h.NumThermometerDim * (1 + len(h.Objectives))
	}
	return h.NumThermometerDim + len(h.Objectives)
}

// Validate checks the hyperparameters.  Every failure is a configuration
// error and is reported before any trajectory is sampled.
func (h *Hyperparameters) Validate() error {
	switch h.Task {
	case TaskSEHFrag, TaskSEHFragMOO:
	default:
		return errors.InvalidConfig("unknown task").WithDetail(h.Task)
	}
	switch h.Algo {
	case AlgoTB, AlgoSQL, AlgoA2C, AlgoMOQL, AlgoMOREINFORCE:
	default:
		return errors.New(errors.CodeUnsupportedAlgorithm, "unsupported algorithm").WithDetail(h.Algo)
	}
	if !h.MultiObjective() && (h.Algo == AlgoMOQL || h.Algo == AlgoMOREINFORCE) {
		return errors.New(errors.CodeUnsupportedAlgorithm, "multi-objective algorithm requires the seh_frag_moo task").WithDetail(h.Algo)
	}
	if err := ValidateTemperature(h.TemperatureSampleDist, h.TemperatureDistParams); err != nil {
		return err
	}
	if h.MultiObjective() {
		if err := ValidateObjectives(h.Objectives); err != nil {
			return err
		}
		switch h.PreferenceType {
		case PreferenceNone, PreferenceDirichlet, PreferenceSeededSingle, PreferenceSeededMany:
		default:
			return errors.New(errors.CodeUnsupportedPreference, "unsupported preference type").WithDetail(h.PreferenceType)
		}
	}
	switch h.ClipGradType {
	case "value", "norm", "none":
	default:
		return errors.New(errors.CodeUnsupportedClipPolicy, "unsupported gradient clipping policy").WithDetail(h.ClipGradType)
	}
	switch h.InvalidTrajectories {
	case InvalidPenalize, InvalidExclude:
	default:
		return errors.InvalidConfig("unsupported invalid trajectory policy").WithDetail(h.InvalidTrajectories)
	}
	if h.LearningRate <= 0 || h.ZLearningRate <= 0 {
		return errors.InvalidConfig("learning rates must be positive")
	}
	if h.LRDecay <= 0 || h.ZLRDecay <= 0 {
		return errors.InvalidConfig("lr decay horizons must be positive")
	}
	if h.GlobalBatchSize < 1 {
		return errors.InvalidConfig("global_batch_size must be >= 1")
	}
	if h.NumEmb < 1 || h.NumLayers < 1 {
		return errors.InvalidConfig("num_emb and num_layers must be >= 1")
	}
	if h.NumThermometerDim < 1 {
		return errors.InvalidConfig("num_thermometer_dim must be >= 1")
	}
	if h.MaxNodes < 1 || h.MaxLen < 1 {
		return errors.InvalidConfig("max_nodes and max_len must be >= 1")
	}
	if h.SamplingTau < 0 || h.SamplingTau >= 1 {
		return errors.InvalidConfig("sampling_tau must be in [0, 1)")
	}
	if h.OfflineRatio < 0 || h.OfflineRatio > 1 {
		return errors.InvalidConfig("offline_ratio must be in [0, 1]")
	}
	if h.RandomActionProb < 0 || h.RandomActionProb > 1 || h.ValidRandomActionProb < 0 || h.ValidRandomActionProb > 1 {
		return errors.InvalidConfig("random action probabilities must be in [0, 1]")
	}
	if h.TBEpsilon < 0 {
		return errors.InvalidConfig("tb_epsilon must be >= 0")
	}
	if h.NumDataLoaderWorkers < 0 {
		return errors.InvalidConfig("num_data_loader_workers must be >= 0")
	}
	return nil
}

// ValidateTemperature checks a temperature distribution family and its
// parameters.
func ValidateTemperature(dist string, params []float64) error {
	want := 2
	switch dist {
	case TemperatureConstant:
		want = 1
	case TemperatureGamma, TemperatureUniform, TemperatureBeta:
	case TemperatureLogUniform:
		if len(params) == 2 && (params[0] <= 0 || params[1] <= 0) {
			return errors.New(errors.CodeUnsupportedDistribution, "loguniform bounds must be positive")
		}
	default:
		return errors.New(errors.CodeUnsupportedDistribution, "unsupported temperature distribution").WithDetail(dist)
	}
	if len(params) != want {
		return errors.New(errors.CodeUnsupportedDistribution, "wrong number of temperature parameters").
			WithDetailf("%s expects %d, got %d", dist, want, len(params))
	}
	if (dist == TemperatureUniform || dist == TemperatureLogUniform) && params[1] <= params[0] {
		return errors.New(errors.CodeUnsupportedDistribution, "temperature range must have positive width").
			WithDetailf("[%g, %g]", params[0], params[1])
	}
	return nil
}

// ValidateObjectives checks that objectives is a non-empty subset of
// KnownObjectives without duplicates.
func ValidateObjectives(objectives []string) error {
	if len(objectives) == 0 {
		return errors.New(errors.CodeInvalidObjectives, "at least one objective is required")
	}
	seen := make(map[string]bool, len(objectives))
	for _, o := range objectives {
		known := false
		for _, k := range KnownObjectives {
			if o == k {
				known = true
				break
			}
		}
		if !known {
			return errors.New(errors.CodeInvalidObjectives, "unknown objective").WithDetail(o)
		}
		if seen[o] {
			return errors.New(errors.CodeInvalidObjectives, "duplicate objective").WithDetail(o)
		}
		seen[o] = true
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Run and infrastructure sections
// ─────────────────────────────────────────────────────────────────────────────

// RunConfig holds the command-surface parameters of a run.
type RunConfig struct {
	LogDir               string   `mapstructure:"log_dir"`
	DataDir              string   `mapstructure:"data_dir"`
	Tracking             []string `mapstructure:"tracking"` // "file" | "prometheus" | "kafka"
	Part                 int      `mapstructure:"part"`     // < 0 means unsharded
	TotalParts           int      `mapstructure:"total_parts"`
	OverwriteExistingExp bool     `mapstructure:"overwrite_existing_exp"`
	ResultsStore         string   `mapstructure:"results_store"`
	MirrorArtifacts      bool     `mapstructure:"mirror_artifacts"`
	ExportGraphs         bool     `mapstructure:"export_graphs"`
	IndexSamples         bool     `mapstructure:"index_samples"`
}

// Sharded reports whether the run trains on a data partition.
func (r *RunConfig) Sharded() bool {
	return r.Part >= 0 && r.TotalParts > 1
}

// ProxyConfig selects the binding-affinity proxy backend.
type ProxyConfig struct {
	Backend   string        `mapstructure:"backend"` // "local" | "http" | "grpc"
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	UseCache  bool          `mapstructure:"use_cache"`
	ServeAddr string        `mapstructure:"serve_addr"`
}

// PostgresConfig holds PostgreSQL connection parameters for the results store.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SQLiteConfig holds the path of the local results database.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis connection parameters for the reward cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds object storage parameters for artifact mirroring.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
}

// KafkaConfig holds Kafka parameters for the telemetry stream.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// Neo4jConfig holds parameters for the molecule graph export.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// OpenSearchConfig holds parameters for the sample index.
type OpenSearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// MetricsConfig controls the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
}

// HTTPConfig controls the status server.  An empty Addr disables it.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Config is the root configuration object.
type Config struct {
	Log        logging.LogConfig `mapstructure:"log"`
	Run        RunConfig         `mapstructure:"run"`
	HPS        Hyperparameters   `mapstructure:"hps"`
	Proxy      ProxyConfig       `mapstructure:"proxy"`
	Postgres   PostgresConfig    `mapstructure:"postgres"`
	SQLite     SQLiteConfig      `mapstructure:"sqlite"`
	Redis      RedisConfig       `mapstructure:"redis"`
	MinIO      MinIOConfig       `mapstructure:"minio"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Neo4j      Neo4jConfig       `mapstructure:"neo4j"`
	OpenSearch OpenSearchConfig  `mapstructure:"opensearch"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	HTTP       HTTPConfig        `mapstructure:"http"`
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Run.LogDir == "" {
		return errors.InvalidConfig("run.log_dir is required")
	}
	if c.Run.TotalParts > 1 {
		if c.Run.Part < 0 || c.Run.Part >= c.Run.TotalParts {
			return errors.InvalidConfig("run.part must be in [0, total_parts)").
				WithDetailf("part=%d total_parts=%d", c.Run.Part, c.Run.TotalParts)
		}
		if c.Run.DataDir == "" {
			return errors.InvalidConfig("run.data_dir is required for partitioned runs")
		}
	}
	for _, t := range c.Run.Tracking {
		switch t {
		case "file", "prometheus", "kafka":
		default:
			return errors.InvalidConfig("unknown tracking destination").WithDetail(t)
		}
	}
	switch c.Run.ResultsStore {
	case StoreNone, StoreMemory, StorePostgres, StoreSQLite:
	default:
		return errors.InvalidConfig("unknown results store").WithDetail(c.Run.ResultsStore)
	}
	switch c.Proxy.Backend {
	case "local", "http", "grpc":
	default:
		return errors.InvalidConfig("unknown proxy backend").WithDetail(c.Proxy.Backend)
	}
	if (c.Proxy.Backend == "http" || c.Proxy.Backend == "grpc") && c.Proxy.Endpoint == "" {
		return errors.InvalidConfig("proxy.endpoint is required for remote backends")
	}
	switch c.Log.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.InvalidConfig(fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return errors.InvalidConfig(fmt.Sprintf("invalid log format %q", c.Log.Format))
	}
	return c.HPS.Validate()
}

package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultSeed          = 142857
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultResultsStore  = StoreNone
	DefaultProxyBackend  = "local"
	DefaultProxyTimeout  = 30 * time.Second
	DefaultProxyBatch    = 256
	DefaultProxyCacheTTL = 24 * time.Hour
	DefaultProxyServe    = ":50051"

	DefaultPostgresHost = "localhost"
	DefaultPostgresPort = 5432
	DefaultPostgresDB   = "molgfn"

	DefaultSQLitePath = "molgfn.db"

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "molgfn:reward:"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "molgfn-runs"

	DefaultKafkaBroker = "localhost:9092"
	DefaultKafkaTopic  = "molgfn.telemetry"

	DefaultNeo4jURI      = "neo4j://localhost:7687"
	DefaultNeo4jDatabase = "neo4j"

	DefaultOpenSearchAddr  = "http://localhost:9200"
	DefaultOpenSearchIndex = "molgfn-samples"

	DefaultMetricsNamespace = "molgfn"
	DefaultMetricsSubsystem = "trainer"

	DefaultHTTPMode            = "release"
	DefaultHTTPShutdownTimeout = 10 * time.Second
)

// DefaultHyperparameters returns the trainer defaults for task.  The
// multi-objective task overrides sampling_tau and adds the preference and
// validation settings.
func DefaultHyperparameters(task string) Hyperparameters {
	host, _ := os.Hostname()
	h := Hyperparameters{
		Task:                   TaskSEHFrag,
		Algo:                   AlgoTB,
		Hostname:               host,
		Seed:                   DefaultSeed,
		LearningRate:           1e-4,
		ZLearningRate:          1e-4,
		LRDecay:                20000,
		ZLRDecay:               20000,
		WeightDecay:            1e-8,
		Momentum:               0.9,
		AdamEps:                1e-8,
		ClipGradType:           "norm",
		ClipGradParam:          10,
		GlobalBatchSize:        64,
		NumTrainingSteps:       20000,
		ValidateEvery:          500,
		NumDataLoaderWorkers:   0,
		OfflineRatio:           0,
		NumEmb:                 128,
		NumLayers:              4,
		TBEpsilon:              0,
		TBPBIsParameterized:    false,
		IllegalActionLogReward: -75,
		InvalidTrajectories:    InvalidPenalize,
		A2CEntropy:             0.01,
		A2CValueCoef:           1,
		A2CGamma:               1,
		MOQLLambda:             0.5,
		MOQLEnvelopeK:          4,
		TemperatureSampleDist:  TemperatureUniform,
		TemperatureDistParams:  []float64{0.5, 32},
		NumThermometerDim:      32,
		RandomActionProb:       0,
		ValidRandomActionProb:  0,
		SamplingTau:            0,
		MaxNodes:               9,
		MaxLen:                 128,
		NValidPrefs:            1,
		NValidRepeatsPerPref:   128,
		PreferenceType:         PreferenceNone,
		TopK:                   10,
		StatsKeep:              256,
	}
	if task == TaskSEHFragMOO {
		h.Task = TaskSEHFragMOO
		h.SamplingTau = 0.95
		h.Objectives = []string{"seh", "qed", "sa", "mw"}
		h.NValidPrefs = 15
		h.PreferenceType = PreferenceDirichlet
	}
	return h
}

// setDefaults registers defaults on v.  The task is read first so that the
// multi-objective defaults apply only to seh_frag_moo runs; values present in
// the file or the environment always win.
func setDefaults(v *viper.Viper) {
	task := v.GetString("hps.task")
	if task == "" {
		task = TaskSEHFrag
	}
	h := DefaultHyperparameters(task)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("run.log_dir", "")
	v.SetDefault("run.data_dir", "")
	v.SetDefault("run.tracking", []string{})
	v.SetDefault("run.part", -1)
	v.SetDefault("run.overwrite_existing_exp", false)
	v.SetDefault("run.mirror_artifacts", false)
	v.SetDefault("run.export_graphs", false)
	v.SetDefault("run.index_samples", false)
	v.SetDefault("run.total_parts", 0)
	v.SetDefault("run.results_store", DefaultResultsStore)

	v.SetDefault("hps.task", h.Task)
	v.SetDefault("hps.algo", h.Algo)
	v.SetDefault("hps.hostname", h.Hostname)
	v.SetDefault("hps.seed", h.Seed)
	v.SetDefault("hps.learning_rate", h.LearningRate)
	v.SetDefault("hps.z_learning_rate", h.ZLearningRate)
	v.SetDefault("hps.lr_decay", h.LRDecay)
	v.SetDefault("hps.z_lr_decay", h.ZLRDecay)
	v.SetDefault("hps.weight_decay", h.WeightDecay)
	v.SetDefault("hps.momentum", h.Momentum)
	v.SetDefault("hps.adam_eps", h.AdamEps)
	v.SetDefault("hps.clip_grad_type", h.ClipGradType)
	v.SetDefault("hps.clip_grad_param", h.ClipGradParam)
	v.SetDefault("hps.global_batch_size", h.GlobalBatchSize)
	v.SetDefault("hps.num_training_steps", h.NumTrainingSteps)
	v.SetDefault("hps.validate_every", h.ValidateEvery)
	v.SetDefault("hps.num_data_loader_workers", h.NumDataLoaderWorkers)
	v.SetDefault("hps.offline_ratio", h.OfflineRatio)
	v.SetDefault("hps.num_emb", h.NumEmb)
	v.SetDefault("hps.num_layers", h.NumLayers)
	v.SetDefault("hps.tb_epsilon", h.TBEpsilon)
	v.SetDefault("hps.tb_p_b_is_parameterized", h.TBPBIsParameterized)
	v.SetDefault("hps.illegal_action_logreward", h.IllegalActionLogReward)
	v.SetDefault("hps.invalid_trajectories", h.InvalidTrajectories)
	v.SetDefault("hps.a2c_entropy", h.A2CEntropy)
	v.SetDefault("hps.a2c_value_coef", h.A2CValueCoef)
	v.SetDefault("hps.a2c_gamma", h.A2CGamma)
	v.SetDefault("hps.moql_lambda", h.MOQLLambda)
	v.SetDefault("hps.moql_envelope_k", h.MOQLEnvelopeK)
	v.SetDefault("hps.temperature_sample_dist", h.TemperatureSampleDist)
	v.SetDefault("hps.temperature_dist_params", h.TemperatureDistParams)
	v.SetDefault("hps.num_thermometer_dim", h.NumThermometerDim)
	v.SetDefault("hps.random_action_prob", h.RandomActionProb)
	v.SetDefault("hps.valid_random_action_prob", h.ValidRandomActionProb)
	v.SetDefault("hps.sampling_tau", h.SamplingTau)
	v.SetDefault("hps.max_nodes", h.MaxNodes)
	v.SetDefault("hps.max_len", h.MaxLen)
	v.SetDefault("hps.objectives", h.Objectives)
	v.SetDefault("hps.n_valid_prefs", h.NValidPrefs)
	v.SetDefault("hps.n_valid_repeats_per_pref", h.NValidRepeatsPerPref)
	v.SetDefault("hps.preference_type", h.PreferenceType)
	v.SetDefault("hps.use_pref_thermometer", h.UsePrefThermometer)
	v.SetDefault("hps.experimental_dirichlet", h.ExperimentalDirichlet)
	v.SetDefault("hps.a2c_bootstrap", h.A2CBootstrap)
	v.SetDefault("hps.top_k", h.TopK)
	v.SetDefault("hps.stats_keep", h.StatsKeep)

	v.SetDefault("proxy.backend", DefaultProxyBackend)
	v.SetDefault("proxy.timeout", DefaultProxyTimeout)
	v.SetDefault("proxy.batch_size", DefaultProxyBatch)
	v.SetDefault("proxy.cache_ttl", DefaultProxyCacheTTL)
	v.SetDefault("proxy.serve_addr", DefaultProxyServe)
	v.SetDefault("proxy.endpoint", "")
	v.SetDefault("proxy.use_cache", false)

	v.SetDefault("postgres.host", DefaultPostgresHost)
	v.SetDefault("postgres.port", DefaultPostgresPort)
	v.SetDefault("postgres.db_name", DefaultPostgresDB)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("sqlite.path", DefaultSQLitePath)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", DefaultRedisPrefix)
	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", DefaultMinIOBucket)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("neo4j.uri", DefaultNeo4jURI)
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", DefaultNeo4jDatabase)
	v.SetDefault("opensearch.addresses", []string{DefaultOpenSearchAddr})
	v.SetDefault("opensearch.username", "")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.index", DefaultOpenSearchIndex)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.subsystem", DefaultMetricsSubsystem)
	v.SetDefault("http.addr", "")
	v.SetDefault("http.mode", DefaultHTTPMode)
	v.SetDefault("http.shutdown_timeout", DefaultHTTPShutdownTimeout)
}

// ApplyDefaults fills zero-value fields of a programmatically built cfg.
// Values already set are left unchanged.  Fields whose zero value is a
// meaningful setting (sampling_tau, offline_ratio, weight_decay, tb_epsilon)
// are never touched.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Run.ResultsStore == "" {
		cfg.Run.ResultsStore = DefaultResultsStore
	}
	if cfg.Proxy.Backend == "" {
		cfg.Proxy.Backend = DefaultProxyBackend
	}
	if cfg.Proxy.Timeout == 0 {
		cfg.Proxy.Timeout = DefaultProxyTimeout
	}
	if cfg.Proxy.BatchSize == 0 {
		cfg.Proxy.BatchSize = DefaultProxyBatch
	}
	if cfg.Proxy.CacheTTL == 0 {
		cfg.Proxy.CacheTTL = DefaultProxyCacheTTL
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	ApplyHyperparameterDefaults(&cfg.HPS)
}

// ApplyHyperparameterDefaults fills zero-value hyperparameters from
// DefaultHyperparameters(h.Task).
func ApplyHyperparameterDefaults(h *Hyperparameters) {
	if h.Task == "" {
		h.Task = TaskSEHFrag
	}
	d := DefaultHyperparameters(h.Task)
	setStr := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}
	setF := func(dst *float64, v float64) {
		if *dst == 0 {
			*dst = v
		}
	}
	setStr(&h.Algo, d.Algo)
	setStr(&h.Hostname, d.Hostname)
	setStr(&h.ClipGradType, d.ClipGradType)
	setStr(&h.InvalidTrajectories, d.InvalidTrajectories)
	setStr(&h.TemperatureSampleDist, d.TemperatureSampleDist)
	setStr(&h.PreferenceType, d.PreferenceType)
	if h.Seed == 0 {
		h.Seed = d.Seed
	}
	setF(&h.LearningRate, d.LearningRate)
	setF(&h.ZLearningRate, d.ZLearningRate)
	setF(&h.LRDecay, d.LRDecay)
	setF(&h.ZLRDecay, d.ZLRDecay)
	setF(&h.Momentum, d.Momentum)
	setF(&h.AdamEps, d.AdamEps)
	setF(&h.ClipGradParam, d.ClipGradParam)
	setF(&h.IllegalActionLogReward, d.IllegalActionLogReward)
	setF(&h.A2CValueCoef, d.A2CValueCoef)
	setF(&h.A2CGamma, d.A2CGamma)
	setF(&h.MOQLLambda, d.MOQLLambda)
	setInt(&h.MOQLEnvelopeK, d.MOQLEnvelopeK)
	setInt(&h.GlobalBatchSize, d.GlobalBatchSize)
	setInt(&h.NumTrainingSteps, d.NumTrainingSteps)
	setInt(&h.ValidateEvery, d.ValidateEvery)
	setInt(&h.NumEmb, d.NumEmb)
	setInt(&h.NumLayers, d.NumLayers)
	setInt(&h.NumThermometerDim, d.NumThermometerDim)
	setInt(&h.MaxNodes, d.MaxNodes)
	setInt(&h.MaxLen, d.MaxLen)
	setInt(&h.NValidPrefs, d.NValidPrefs)
	setInt(&h.NValidRepeatsPerPref, d.NValidRepeatsPerPref)
	setInt(&h.TopK, d.TopK)
	setInt(&h.StatsKeep, d.StatsKeep)
	if len(h.TemperatureDistParams) == 0 {
		h.TemperatureDistParams = append([]float64(nil), d.TemperatureDistParams...)
	}
	if len(h.Objectives) == 0 && d.Objectives != nil {
		h.Objectives = append([]string(nil), d.Objectives...)
	}
}

package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/intelligence/optim"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Experiment directory layout.
const (
	HPSJSONFile    = "hps.json"
	HPSYAMLFile    = "hps.yaml"
	CheckpointsDir = "checkpoints"
)

// PrepareExperimentDir creates logDir.  An existing directory is a
// collision unless overwrite is set, in which case it is wiped.  logDir may
// never be dataDir or contain it.
func PrepareExperimentDir(logDir, dataDir string, overwrite bool) error {
	if logDir == "" {
		return errors.InvalidConfig("log_dir is required")
	}
	abs, err := filepath.Abs(logDir)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "resolve log_dir")
	}
	if dataDir != "" {
		data, err := filepath.Abs(dataDir)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidConfig, "resolve data_dir")
		}
		if abs == data || strings.HasPrefix(data+string(filepath.Separator), abs+string(filepath.Separator)) {
			return errors.New(errors.CodeExperimentDirUnsafe, "log_dir would overwrite data_dir").
				WithDetailf("log_dir=%s data_dir=%s", logDir, dataDir)
		}
	}
	if abs == string(filepath.Separator) {
		return errors.New(errors.CodeExperimentDirUnsafe, "refusing to use the filesystem root as log_dir")
	}
	if _, err := os.Stat(abs); err == nil {
		if !overwrite {
			return errors.New(errors.CodeExperimentDirExists, "experiment directory already exists").WithDetail(logDir)
		}
		if err := os.RemoveAll(abs); err != nil {
			return errors.Wrap(err, errors.CodeStorageError, "wipe experiment directory")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeStorageError, "stat experiment directory")
	}
	if err := os.MkdirAll(filepath.Join(abs, CheckpointsDir), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create experiment directory")
	}
	return nil
}

// WriteHyperparameters stores h as hps.json and hps.yaml in dir and
// returns the JSON bytes.
func WriteHyperparameters(dir string, h *config.Hyperparameters) ([]byte, error) {
	js, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode hps.json")
	}
	ys, err := yaml.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode hps.yaml")
	}
	if err := os.WriteFile(filepath.Join(dir, HPSJSONFile), js, 0o644); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "write hps.json")
	}
	if err := os.WriteFile(filepath.Join(dir, HPSYAMLFile), ys, 0o644); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "write hps.yaml")
	}
	return js, nil
}

// ReadHyperparameters loads hps.json from dir.
func ReadHyperparameters(dir string) (*config.Hyperparameters, error) {
	b, err := os.ReadFile(filepath.Join(dir, HPSJSONFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "read hps.json")
	}
	var h config.Hyperparameters
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode hps.json")
	}
	return &h, nil
}

// Checkpoint is the persisted training state at a validation boundary.
type Checkpoint struct {
	Step           int                  `json:"step"`
	Params         map[string][]float64 `json:"params"`
	SamplingParams map[string][]float64 `json:"sampling_params,omitempty"`
	PolicyOpt      *optim.AdamState     `json:"policy_opt"`
	ZOpt           *optim.AdamState     `json:"z_opt"`
	PolicyEpoch    int                  `json:"policy_epoch"`
	ZEpoch         int                  `json:"z_epoch"`
}

// CheckpointPath is checkpoints/model_<step>.json under logDir.
func CheckpointPath(logDir string, step int) string {
	return filepath.Join(logDir, CheckpointsDir, fmt.Sprintf("model_%d.json", step))
}

// SaveCheckpoint writes c atomically and returns its path.
func SaveCheckpoint(logDir string, c *Checkpoint) (string, error) {
	path := CheckpointPath(logDir, c.Step)
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeCheckpointIO, "encode checkpoint")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, errors.CodeCheckpointIO, "create checkpoint directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", errors.Wrap(err, errors.CodeCheckpointIO, "write checkpoint")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, errors.CodeCheckpointIO, "commit checkpoint")
	}
	return path, nil
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpointIO, "read checkpoint").WithDetail(path)
	}
	var c Checkpoint
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpointIO, "decode checkpoint").WithDetail(path)
	}
	return &c, nil
}

// LatestCheckpoint returns the path of the highest-step checkpoint in
// logDir, or "" when there is none.
func LatestCheckpoint(logDir string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(logDir, CheckpointsDir))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.CodeCheckpointIO, "list checkpoints")
	}
	var steps []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "model_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "model_"), ".json"))
		if err == nil {
			steps = append(steps, n)
		}
	}
	if len(steps) == 0 {
		return "", nil
	}
	sort.Ints(steps)
	return CheckpointPath(logDir, steps[len(steps)-1]), nil
}

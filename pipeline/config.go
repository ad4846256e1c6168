package pipeline

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/diabetesml/dataset"
	"github.com/YuminosukeSato/diabetesml/optimize/bayesopt"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/sklearn/neighbors"
)

// Config holds every recognized pipeline option.
type Config struct {
	DataPath  string `yaml:"data_path" json:"data_path"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	Contamination   float64 `yaml:"contamination" json:"contamination"`
	TestSize        float64 `yaml:"test_size" json:"test_size"`
	Seed            int64   `yaml:"seed" json:"seed"`
	SMOTEKNeighbors int     `yaml:"smote_k_neighbors" json:"smote_k_neighbors"`

	InitPoints  int    `yaml:"init_points" json:"init_points"`
	NIter       int    `yaml:"n_iter" json:"n_iter"`
	CVFolds     int    `yaml:"cv_folds" json:"cv_folds"`
	Optimizer   string `yaml:"optimizer" json:"optimizer"`
	Acquisition string `yaml:"acquisition" json:"acquisition"`
	Candidates  int    `yaml:"acquisition_candidates" json:"acquisition_candidates"`

	Logistic LogisticConfig `yaml:"logistic" json:"logistic"`
	KNN      KNNConfig      `yaml:"knn" json:"knn"`
	Booster  BoosterConfig  `yaml:"booster" json:"booster"`

	Workers     int    `yaml:"workers" json:"workers"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
	ReportFile  string `yaml:"report_file" json:"report_file"`
	Plots       bool   `yaml:"plots" json:"plots"`
	TopFeatures int    `yaml:"top_features" json:"top_features"`
}

// LogisticConfig fixes the logistic regression hyperparameters.
type LogisticConfig struct {
	C       float64 `yaml:"c" json:"c"`
	MaxIter int     `yaml:"max_iter" json:"max_iter"`
}

// KNNConfig fixes the nearest-neighbour hyperparameters.
type KNNConfig struct {
	NNeighbors int    `yaml:"n_neighbors" json:"n_neighbors"`
	Weights    string `yaml:"weights" json:"weights"`
}

// BoosterConfig holds the untuned gradient boosting hyperparameters.
type BoosterConfig struct {
	NEstimators     int     `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth        int     `yaml:"max_depth" json:"max_depth"`
	LearningRate    float64 `yaml:"learning_rate" json:"learning_rate"`
	Subsample       float64 `yaml:"subsample" json:"subsample"`
	ColsampleByTree float64 `yaml:"colsample_bytree" json:"colsample_bytree"`
	RegLambda       float64 `yaml:"reg_lambda" json:"reg_lambda"`
	MinChildWeight  float64 `yaml:"min_child_weight" json:"min_child_weight"`
	Gamma           float64 `yaml:"gamma" json:"gamma"`
	MaxBin          int     `yaml:"max_bin" json:"max_bin"`
}

// DefaultConfig returns the configuration of the reference run.
func DefaultConfig() *Config {
	return &Config{
		DataPath:        dataset.DefaultFile,
		OutputDir:       "plots",
		Contamination:   0.075,
		TestSize:        0.2,
		Seed:            42,
		SMOTEKNeighbors: 5,
		InitPoints:      5,
		NIter:           25,
		CVFolds:         3,
		Optimizer:       bayesopt.KindGP,
		Acquisition:     "ucb",
		Candidates:      10000,
		Logistic:        LogisticConfig{C: 1, MaxIter: 200},
		KNN:             KNNConfig{NNeighbors: 10, Weights: neighbors.WeightsDistance},
		Booster: BoosterConfig{
			NEstimators:     100,
			MaxDepth:        6,
			LearningRate:    0.3,
			Subsample:       1,
			ColsampleByTree: 1,
			RegLambda:       1,
			MinChildWeight:  1,
			Gamma:           0,
			MaxBin:          256,
		},
		LogLevel:    "info",
		LogFormat:   "console",
		ReportFile:  "report.json",
		Plots:       true,
		TopFeatures: 15,
	}
}

// LoadConfig reads a YAML file over the defaults. ${VAR} references are
// replaced with environment values before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// substituteEnvVars replaces ${NAME} with the value of NAME. Unset variables
// become empty; an unterminated reference is left as is.
func substituteEnvVars(content string) string {
	var sb strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		sb.WriteString(content[:start])
		sb.WriteString(os.Getenv(content[start+2 : start+end]))
		content = content[start+end+1:]
	}
	sb.WriteString(content)
	return sb.String()
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	switch {
	case c.DataPath == "":
		return errors.NewValidationError("data_path", "must not be empty", c.DataPath)
	case !(c.Contamination > 0 && c.Contamination <= 0.5):
		return errors.NewValidationError("contamination", "must be in (0, 0.5]", c.Contamination)
	case !(c.TestSize > 0 && c.TestSize < 1):
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	case c.SMOTEKNeighbors < 1:
		return errors.NewValidationError("smote_k_neighbors", "must be at least 1", c.SMOTEKNeighbors)
	case c.InitPoints < 0:
		return errors.NewValidationError("init_points", "must be non-negative", c.InitPoints)
	case c.NIter < 0:
		return errors.NewValidationError("n_iter", "must be non-negative", c.NIter)
	case c.InitPoints+c.NIter < 1:
		return errors.NewValidationError("n_iter", "init_points + n_iter must be at least 1", c.NIter)
	case c.CVFolds < 2:
		return errors.NewValidationError("cv_folds", "must be at least 2", c.CVFolds)
	case c.Candidates < 1:
		return errors.NewValidationError("acquisition_candidates", "must be at least 1", c.Candidates)
	case !(c.Logistic.C > 0):
		return errors.NewValidationError("logistic.c", "must be positive", c.Logistic.C)
	case c.Logistic.MaxIter < 1:
		return errors.NewValidationError("logistic.max_iter", "must be at least 1", c.Logistic.MaxIter)
	case c.KNN.NNeighbors < 1:
		return errors.NewValidationError("knn.n_neighbors", "must be at least 1", c.KNN.NNeighbors)
	case c.KNN.Weights != neighbors.WeightsUniform && c.KNN.Weights != neighbors.WeightsDistance:
		return errors.NewValidationError("knn.weights", "must be uniform or distance", c.KNN.Weights)
	case c.Booster.NEstimators < 1:
		return errors.NewValidationError("booster.n_estimators", "must be at least 1", c.Booster.NEstimators)
	case c.Booster.MaxDepth < 1:
		return errors.NewValidationError("booster.max_depth", "must be at least 1", c.Booster.MaxDepth)
	case !(c.Booster.LearningRate > 0):
		return errors.NewValidationError("booster.learning_rate", "must be positive", c.Booster.LearningRate)
	case !(c.Booster.Subsample > 0 && c.Booster.Subsample <= 1):
		return errors.NewValidationError("booster.subsample", "must be in (0, 1]", c.Booster.Subsample)
	case !(c.Booster.ColsampleByTree > 0 && c.Booster.ColsampleByTree <= 1):
		return errors.NewValidationError("booster.colsample_bytree", "must be in (0, 1]", c.Booster.ColsampleByTree)
	case c.Booster.RegLambda < 0:
		return errors.NewValidationError("booster.reg_lambda", "must be non-negative", c.Booster.RegLambda)
	case c.Booster.MaxBin < 2 || c.Booster.MaxBin > 256:
		return errors.NewValidationError("booster.max_bin", "must be in [2, 256]", c.Booster.MaxBin)
	case c.Workers < 0:
		return errors.NewValidationError("workers", "must be non-negative", c.Workers)
	case c.TopFeatures < 1:
		return errors.NewValidationError("top_features", "must be at least 1", c.TopFeatures)
	}
	if _, err := bayesopt.ParseKind(c.Optimizer); err != nil {
		return err
	}
	if _, err := bayesopt.ParseAcquisition(c.Acquisition); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return errors.NewValidationError("log_format", "must be json or console", c.LogFormat)
	}
	return nil
}

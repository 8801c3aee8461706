package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stevecastle/dpeval/platform"
)

// Config holds evaluation settings: dataset locations, model paths, runtime
// options and the optional result sinks.
type Config struct {
	InputDir      string `json:"inputDir"`
	ResultDir     string `json:"resultDir"`
	Weights       string `json:"weights"`
	SaveImages    bool   `json:"saveImages"`
	Resize        int    `json:"resize"`
	Interpolation string `json:"interpolation"`

	// Label files; empty means <inputDir>/indoor_labels.npy and outdoor_labels.npy
	IndoorLabels  string `json:"indoorLabels"`
	OutdoorLabels string `json:"outdoorLabels"`

	// ONNX runtime settings
	Onnx struct {
		SharedLibraryPath string    `json:"sharedLibraryPath"`
		UseCUDA           bool      `json:"useCuda"`
		IntraOpThreads    int       `json:"intraOpThreads"`
		ModelInput        string    `json:"modelInput"`
		ModelOutput       string    `json:"modelOutput"`
		LPIPSModel        string    `json:"lpipsModel"`
		LPIPSInputs       [2]string `json:"lpipsInputs"`
		LPIPSOutput       string    `json:"lpipsOutput"`
	} `json:"onnx"`

	// Optional sqlite database receiving per-sample rows
	ResultsDB string `json:"resultsDb"`

	// Optional s3://bucket/prefix destination for restored images and the summary
	Upload struct {
		URI             string `json:"uri"`
		Region          string `json:"region"`
		Endpoint        string `json:"endpoint"`
		UsePathStyle    bool   `json:"usePathStyle"`
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
	} `json:"upload"`

	// Download/extraction cache for remote weights and dataset archives
	CacheDir string `json:"cacheDir"`

	LogLevel string `json:"logLevel"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(platform.GetDataDir(), "config.json")
}

// defaultConfig returns a Config populated with the reference evaluation layout.
func defaultConfig() Config {
	c := Config{
		InputDir:      "./Datasets/DPDD/",
		ResultDir:     "./results/Dual_Pixel_Defocus_Deblurring/",
		Weights:       "./pretrained_models/dual_pixel_defocus_deblurring.onnx",
		Interpolation: "bilinear",
		CacheDir:      platform.GetCacheDir(),
		LogLevel:      "info",
	}
	c.Onnx.SharedLibraryPath = platform.OnnxRuntimeLibPath()
	c.Onnx.ModelInput = "input"
	c.Onnx.ModelOutput = "output"
	c.Onnx.LPIPSModel = "./pretrained_models/lpips_alex.onnx"
	c.Onnx.LPIPSInputs = [2]string{"in0", "in1"}
	c.Onnx.LPIPSOutput = "out0"
	return c
}

// Default returns a copy of the default configuration.
func Default() Config {
	return defaultConfig()
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// fillDefaults copies default values into fields the file left empty.
func fillDefaults(c *Config) {
	def := defaultConfig()
	if c.InputDir == "" {
		c.InputDir = def.InputDir
	}
	if c.ResultDir == "" {
		c.ResultDir = def.ResultDir
	}
	if c.Weights == "" {
		c.Weights = def.Weights
	}
	if c.Interpolation == "" {
		c.Interpolation = def.Interpolation
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Onnx.SharedLibraryPath == "" {
		c.Onnx.SharedLibraryPath = def.Onnx.SharedLibraryPath
	}
	if c.Onnx.ModelInput == "" {
		c.Onnx.ModelInput = def.Onnx.ModelInput
	}
	if c.Onnx.ModelOutput == "" {
		c.Onnx.ModelOutput = def.Onnx.ModelOutput
	}
	if c.Onnx.LPIPSModel == "" {
		c.Onnx.LPIPSModel = def.Onnx.LPIPSModel
	}
	if c.Onnx.LPIPSInputs[0] == "" || c.Onnx.LPIPSInputs[1] == "" {
		c.Onnx.LPIPSInputs = def.Onnx.LPIPSInputs
	}
	if c.Onnx.LPIPSOutput == "" {
		c.Onnx.LPIPSOutput = def.Onnx.LPIPSOutput
	}
}

// Load reads the config at path and updates the in-memory config. Missing
// fields take their default values. An empty path or a path that does not
// exist yields the defaults without touching the disk.
func Load(path string) (Config, error) {
	if path == "" {
		def := defaultConfig()
		Set(def)
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := defaultConfig()
			Set(def)
			return def, nil
		}
		return Config{}, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	fillDefaults(&c)
	if c.Resize < 0 {
		return Config{}, fmt.Errorf("resize must be a non-negative percentage, got %d", c.Resize)
	}

	Set(c)
	return c, nil
}

// Save writes the config to path, creating the directory as needed. Keys in
// an existing file that Config does not know about are preserved.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return fmt.Errorf("failed to map config JSON: %w", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	Set(c)
	return nil
}

// LabelPaths resolves the indoor and outdoor label files.
func (c Config) LabelPaths() (indoor, outdoor string) {
	indoor, outdoor = c.IndoorLabels, c.OutdoorLabels
	if indoor == "" {
		indoor = filepath.Join(c.InputDir, "indoor_labels.npy")
	}
	if outdoor == "" {
		outdoor = filepath.Join(c.InputDir, "outdoor_labels.npy")
	}
	return indoor, outdoor
}

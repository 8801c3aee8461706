// Command dpeval evaluates a dual-pixel defocus deblurring model on the
// DPDD test set and prints PSNR, SSIM, MAE and LPIPS for all, indoor and
// outdoor scenes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/stevecastle/dpeval/appconfig"
	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/log"
)

type options struct {
	configPath  string
	saveConfig  bool
	baseline    bool
	noLPIPS     bool
	installORT  bool
	openResults bool
	noProgress  bool
}

// errUsage marks command line mistakes, reported with exit status 2.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, "Error:", err)
			return 2
		}
		log.Errorf("%v", err)
		return 1
	}
	cfg := appconfig.Get()
	log.SetLevel(cfg.LogLevel)

	if opts.saveConfig {
		if err := appconfig.Save(opts.configPath, cfg); err != nil {
			log.Errorf("failed to save config: %v", err)
			return 1
		}
		log.Infof("saved config to %s", opts.configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := evaluateDataset(ctx, cfg, opts, stdout, stderr); err != nil {
		log.Errorf("%v", err)
		return 1
	}
	return 0
}

// parseArgs parses the command line, loads the config file and lets flags
// that were set explicitly override it. The result becomes the in-memory
// config.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var (
		opts  options
		flags = appconfig.Default()
		fs    = flag.NewFlagSet("dpeval", flag.ContinueOnError)
	)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", appconfig.DefaultConfigPath(), "Path to JSON config file")
	fs.BoolVar(&opts.saveConfig, "save_config", false, "Write the effective configuration back to --config")
	fs.StringVar(&flags.InputDir, "input_dir", flags.InputDir, "Directory of validation images (or a .zip/.7z/.tar.gz archive or URL)")
	fs.StringVar(&flags.ResultDir, "result_dir", flags.ResultDir, "Directory for restored results")
	fs.StringVar(&flags.Weights, "weights", flags.Weights, "Path or URL of the ONNX restoration model")
	fs.BoolVar(&flags.SaveImages, "save_images", false, "Save restored images in the result directory")
	fs.IntVar(&flags.Resize, "resize", 0, "Resize percentage for faster evaluation (0 disables)")
	fs.StringVar(&flags.Interpolation, "interpolation", flags.Interpolation, "Resize filter: bilinear, bicubic, lanczos, nearest, mitchell, catmullrom, approx-bilinear")
	fs.StringVar(&flags.IndoorLabels, "indoor_labels", "", "Indoor label file (default <input_dir>/indoor_labels.npy)")
	fs.StringVar(&flags.OutdoorLabels, "outdoor_labels", "", "Outdoor label file (default <input_dir>/outdoor_labels.npy)")
	fs.StringVar(&flags.Onnx.LPIPSModel, "lpips", flags.Onnx.LPIPSModel, "Path or URL of the ONNX LPIPS(alex) model")
	fs.BoolVar(&opts.noLPIPS, "no_lpips", false, "Skip LPIPS and report NaN")
	fs.BoolVar(&opts.baseline, "baseline", false, "Score the average of the two views instead of running a model")
	fs.StringVar(&flags.Onnx.SharedLibraryPath, "ort", flags.Onnx.SharedLibraryPath, "Path to onnxruntime shared library")
	fs.BoolVar(&opts.installORT, "install_ort", false, "Download onnxruntime to --ort when it is missing")
	fs.BoolVar(&flags.Onnx.UseCUDA, "cuda", false, "Run models with the CUDA execution provider")
	fs.IntVar(&flags.Onnx.IntraOpThreads, "threads", 0, "ONNX Runtime intra-op threads (0 = runtime default)")
	fs.StringVar(&flags.Onnx.ModelInput, "input_name", flags.Onnx.ModelInput, "Restoration model input tensor name")
	fs.StringVar(&flags.Onnx.ModelOutput, "output_name", flags.Onnx.ModelOutput, "Restoration model output tensor name")
	fs.StringVar(&flags.ResultsDB, "results_db", "", "SQLite database receiving per-sample scores")
	fs.StringVar(&flags.Upload.URI, "upload", "", "Publish restored images and summary to s3://bucket/prefix")
	fs.StringVar(&flags.Upload.Region, "upload_region", "", "AWS region for --upload")
	fs.StringVar(&flags.Upload.Endpoint, "upload_endpoint", "", "Custom S3 endpoint for --upload (MinIO, R2, ...)")
	fs.BoolVar(&flags.Upload.UsePathStyle, "upload_path_style", false, "Use path-style S3 addressing")
	fs.StringVar(&flags.CacheDir, "cache_dir", flags.CacheDir, "Cache for downloaded models and datasets")
	fs.BoolVar(&opts.openResults, "open_results", false, "Open the result directory when done")
	fs.StringVar(&flags.LogLevel, "log_level", flags.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&opts.noProgress, "no_progress", false, "Disable progress bars")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, err
		}
		return opts, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}

	cfg, err := appconfig.Load(opts.configPath)
	if err != nil {
		return opts, fmt.Errorf("%w: %v", errUsage, err)
	}
	fs.Visit(func(f *flag.Flag) {
		override(&cfg, &flags, f.Name)
	})
	if err := validate(cfg, opts); err != nil {
		return opts, fmt.Errorf("%w: %v", errUsage, err)
	}
	appconfig.Set(cfg)
	return opts, nil
}

// override copies the value of flag name from flags into cfg.
func override(cfg, flags *appconfig.Config, name string) {
	switch name {
	case "input_dir":
		cfg.InputDir = flags.InputDir
	case "result_dir":
		cfg.ResultDir = flags.ResultDir
	case "weights":
		cfg.Weights = flags.Weights
	case "save_images":
		cfg.SaveImages = flags.SaveImages
	case "resize":
		cfg.Resize = flags.Resize
	case "interpolation":
		cfg.Interpolation = flags.Interpolation
	case "indoor_labels":
		cfg.IndoorLabels = flags.IndoorLabels
	case "outdoor_labels":
		cfg.OutdoorLabels = flags.OutdoorLabels
	case "lpips":
		cfg.Onnx.LPIPSModel = flags.Onnx.LPIPSModel
	case "ort":
		cfg.Onnx.SharedLibraryPath = flags.Onnx.SharedLibraryPath
	case "cuda":
		cfg.Onnx.UseCUDA = flags.Onnx.UseCUDA
	case "threads":
		cfg.Onnx.IntraOpThreads = flags.Onnx.IntraOpThreads
	case "input_name":
		cfg.Onnx.ModelInput = flags.Onnx.ModelInput
	case "output_name":
		cfg.Onnx.ModelOutput = flags.Onnx.ModelOutput
	case "results_db":
		cfg.ResultsDB = flags.ResultsDB
	case "upload":
		cfg.Upload.URI = flags.Upload.URI
	case "upload_region":
		cfg.Upload.Region = flags.Upload.Region
	case "upload_endpoint":
		cfg.Upload.Endpoint = flags.Upload.Endpoint
	case "upload_path_style":
		cfg.Upload.UsePathStyle = flags.Upload.UsePathStyle
	case "cache_dir":
		cfg.CacheDir = flags.CacheDir
	case "log_level":
		cfg.LogLevel = flags.LogLevel
	}
}

func validate(cfg appconfig.Config, opts options) error {
	if cfg.Resize < 0 {
		return fmt.Errorf("--resize must be a non-negative percentage, got %d", cfg.Resize)
	}
	if cfg.Resize > 0 {
		if err := imageio.CheckInterpolation(cfg.Interpolation); err != nil {
			return err
		}
	}
	if cfg.InputDir == "" {
		return errors.New("--input_dir is required")
	}
	if cfg.SaveImages && cfg.ResultDir == "" {
		return errors.New("--save_images needs --result_dir")
	}
	if !opts.baseline && cfg.Weights == "" {
		return errors.New("--weights is required unless --baseline is set")
	}
	if cfg.Onnx.IntraOpThreads < 0 {
		return fmt.Errorf("--threads must not be negative, got %d", cfg.Onnx.IntraOpThreads)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/schollz/progressbar/v3"

	"github.com/stevecastle/dpeval/appconfig"
	"github.com/stevecastle/dpeval/dataset"
	"github.com/stevecastle/dpeval/downloads"
	"github.com/stevecastle/dpeval/evaluate"
	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/log"
	"github.com/stevecastle/dpeval/metrics"
	"github.com/stevecastle/dpeval/ortsession"
	"github.com/stevecastle/dpeval/restore"
	"github.com/stevecastle/dpeval/store"
	"github.com/stevecastle/dpeval/upload"
)

func evaluateDataset(ctx context.Context, cfg appconfig.Config, opts options, stdout, stderr io.Writer) (err error) {
	progress := downloadProgress(stderr, !opts.noProgress)

	root, err := downloads.PrepareDataset(ctx, cfg.InputDir, cfg.CacheDir, dataset.LeftDir, progress)
	if err != nil {
		return fmt.Errorf("prepare dataset: %w", err)
	}
	cfg.InputDir = root

	samples, err := dataset.Match(root)
	if err != nil {
		return err
	}
	log.Infof("found %d samples under %s", len(samples), root)

	partition, err := loadPartition(ctx, cfg, progress)
	if err != nil {
		return err
	}
	if err := partition.Validate(len(samples)); err != nil {
		return fmt.Errorf("labels: %w", err)
	}
	log.Infof("%d indoor, %d outdoor samples", len(partition.Indoor), len(partition.Outdoor))

	models := &modelSet{cfg: cfg, opts: opts, progress: progress}
	defer models.Close()

	restorer, modelName, err := models.restorer(ctx)
	if err != nil {
		return err
	}
	lpips, err := models.lpips(ctx)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	evalOpts := evaluate.Options{
		Image:      imageio.Options{ResizePct: cfg.Resize, Interpolation: cfg.Interpolation},
		SaveImages: cfg.SaveImages,
		ResultDir:  cfg.ResultDir,
	}
	if !opts.noProgress {
		evalOpts.Progress = stderr
	}

	var (
		results  *store.Store
		finished bool
	)
	if cfg.ResultsDB != "" {
		results, err = store.Open(cfg.ResultsDB)
		if err != nil {
			return err
		}
		defer results.Close()
		_, err = results.BeginRun(ctx, store.RunParams{
			ID:            runID,
			InputDir:      root,
			Weights:       cfg.Weights,
			Model:         modelName,
			Resize:        cfg.Resize,
			Interpolation: cfg.Interpolation,
			Samples:       len(samples),
			Categories:    partition.Categories(len(samples)),
		})
		if err != nil {
			return err
		}
		evalOpts.Recorder = results
		defer func() {
			if err == nil || finished {
				return
			}
			if ferr := results.Fail(context.WithoutCancel(ctx), err); ferr != nil {
				log.Warnf("failed to mark run %s failed: %v", runID, ferr)
			}
		}()
	}

	var bucket *upload.Bucket
	if cfg.Upload.URI != "" {
		b, err := upload.New(ctx, upload.Config{
			URI:             cfg.Upload.URI,
			Region:          cfg.Upload.Region,
			Endpoint:        cfg.Upload.Endpoint,
			UsePathStyle:    cfg.Upload.UsePathStyle,
			AccessKeyID:     cfg.Upload.AccessKeyID,
			SecretAccessKey: cfg.Upload.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		bucket = b.WithPrefix(runID)
		evalOpts.Publisher = bucket
	}

	ec := evaluate.NewContext(restorer, lpips)
	scores, err := evaluate.Run(ctx, ec, samples, evalOpts)
	if err != nil {
		return err
	}
	summary, err := evaluate.Summarize(scores, partition)
	if err != nil {
		return err
	}
	if err := evaluate.Report(stdout, summary); err != nil {
		return err
	}

	if results != nil {
		if err := results.Finish(ctx, summary); err != nil {
			return err
		}
		finished = true
		log.Infof("recorded run %s in %s", runID, cfg.ResultsDB)
	}
	if bucket != nil {
		if err := bucket.PublishJSON(ctx, upload.SummaryName, summary); err != nil {
			return fmt.Errorf("publish summary: %w", err)
		}
		log.Infof("uploaded results to %s/%s", strings.TrimSuffix(cfg.Upload.URI, "/"), runID)
	}
	if opts.openResults {
		if !cfg.SaveImages {
			log.Warnf("--open_results has no effect without --save_images")
		} else if err := browser.OpenFile(cfg.ResultDir); err != nil {
			log.Warnf("failed to open %s: %v", cfg.ResultDir, err)
		}
	}
	return nil
}

func loadPartition(ctx context.Context, cfg appconfig.Config, progress downloads.ProgressCallback) (dataset.Partition, error) {
	indoor, outdoor := cfg.LabelPaths()
	indoor, err := downloads.Fetch(ctx, indoor, cfg.CacheDir, progress)
	if err != nil {
		return dataset.Partition{}, err
	}
	outdoor, err = downloads.Fetch(ctx, outdoor, cfg.CacheDir, progress)
	if err != nil {
		return dataset.Partition{}, err
	}
	return dataset.LoadPartition(indoor, outdoor)
}

// modelSet creates the ONNX runtime on first use and owns every session
// opened from it.
type modelSet struct {
	cfg      appconfig.Config
	opts     options
	progress downloads.ProgressCallback

	rt      *ortsession.Runtime
	closers []func() error
}

func (m *modelSet) runtime(ctx context.Context) (*ortsession.Runtime, error) {
	if m.rt != nil {
		return m.rt, nil
	}
	lib := m.cfg.Onnx.SharedLibraryPath
	if m.opts.installORT {
		if err := downloads.InstallRuntime(ctx, lib, m.cfg.CacheDir, m.progress); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(lib); err != nil && os.Getenv(ortsession.LibraryPathEnv) != "" {
		log.Debugf("%s not found, using $%s", lib, ortsession.LibraryPathEnv)
		lib = ""
	}
	rt, err := ortsession.Init(ortsession.Options{
		SharedLibraryPath: lib,
		UseCUDA:           m.cfg.Onnx.UseCUDA,
		IntraOpThreads:    m.cfg.Onnx.IntraOpThreads,
	})
	if err != nil {
		return nil, err
	}
	m.rt = rt
	return rt, nil
}

func (m *modelSet) restorer(ctx context.Context) (restore.Restorer, string, error) {
	if m.opts.baseline {
		log.Infof("scoring the mean of the two views")
		return restore.Mean{}, "mean", nil
	}
	weights, err := downloads.Fetch(ctx, m.cfg.Weights, m.cfg.CacheDir, m.progress)
	if err != nil {
		return nil, "", fmt.Errorf("weights: %w", err)
	}
	rt, err := m.runtime(ctx)
	if err != nil {
		return nil, "", err
	}
	r, err := restore.Open(rt, weights, m.cfg.Onnx.ModelInput, m.cfg.Onnx.ModelOutput)
	if err != nil {
		return nil, "", err
	}
	m.closers = append(m.closers, r.Close)
	log.Infof("loaded restoration model %s", weights)
	return r, "onnx:" + filepath.Base(weights), nil
}

func (m *modelSet) lpips(ctx context.Context) (metrics.Metric, error) {
	if m.opts.noLPIPS {
		return metrics.Disabled("LPIPS"), nil
	}
	path, err := downloads.Fetch(ctx, m.cfg.Onnx.LPIPSModel, m.cfg.CacheDir, m.progress)
	if err != nil {
		return nil, fmt.Errorf("lpips model: %w", err)
	}
	rt, err := m.runtime(ctx)
	if err != nil {
		return nil, err
	}
	l, err := metrics.OpenLPIPS(rt, path, m.cfg.Onnx.LPIPSInputs, m.cfg.Onnx.LPIPSOutput)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, l.Close)
	return l, nil
}

// Close destroys sessions before the runtime.
func (m *modelSet) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			log.Warnf("failed to close model: %v", err)
		}
	}
	if m.rt != nil {
		if err := m.rt.Close(); err != nil {
			log.Warnf("failed to close onnx runtime: %v", err)
		}
	}
}

// downloadProgress renders one byte progress bar per downloaded file.
func downloadProgress(w io.Writer, enabled bool) downloads.ProgressCallback {
	bars := map[string]*progressbar.ProgressBar{}
	return func(p downloads.Progress) {
		switch p.Stage {
		case downloads.StageDownloading:
			if !enabled {
				return
			}
			bar, ok := bars[p.Name]
			if !ok {
				bar = progressbar.NewOptions64(p.Total,
					progressbar.OptionSetWriter(w),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetWidth(15),
					progressbar.OptionSetDescription(p.Name))
				bars[p.Name] = bar
			}
			if p.Total > 0 && bar.GetMax64() != p.Total {
				bar.ChangeMax64(p.Total)
			}
			_ = bar.Set64(p.Done)
		case downloads.StageExtracting:
			log.Debugf("extracting %s: %d/%d entries (%.0f%%)", p.Name, p.Done, p.Total, p.Percent())
		case downloads.StageComplete:
			if bar, ok := bars[p.Name]; ok {
				_ = bar.Finish()
				fmt.Fprintln(w)
				delete(bars, p.Name)
			}
		}
	}
}

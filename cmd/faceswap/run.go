package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/pipeline"
	"github.com/dudu/faceswap/internal/vision"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Swap the source identity into a target image or frame directory",
	Example: `  faceswap run --source me.jpg --target group.jpg --output out.jpg
  faceswap run --source a.jpg --source b.jpg --target frames/ --output swapped/ --mode many`,
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("source", nil, "Source face image(s); several images are averaged into one identity")
	runCmd.Flags().String("target", "", "Target image or directory of extracted frames")
	runCmd.Flags().String("output", "", "Output image, or output directory for frames")
	runCmd.Flags().String("model", "", "Swapper model key (see 'faceswap models')")
	runCmd.Flags().String("pixel-boost", "", "Alignment resolution, a multiple of the model size, e.g. 512x512")
	runCmd.Flags().String("mode", "", "Face selector mode: one, many, reference")
	runCmd.Flags().String("order", "", "Face order: left-right, large-small, best-worst, ...")
	runCmd.Flags().Float64("reference-distance", 0, "Maximum embedding distance for reference mode")
	runCmd.Flags().StringSlice("mask-types", nil, "Face mask types: box, occlusion, region")
	runCmd.Flags().StringSlice("mask-regions", nil, "Face regions for the region mask (default all)")
	runCmd.Flags().StringSlice("providers", nil, "Execution providers in priority order")
	runCmd.Flags().Int("workers", 0, "Parallel frame workers")
	runCmd.Flags().String("memory-strategy", "", "Memory strategy: strict, moderate, tolerant")

	_ = runCmd.MarkFlagRequired("source")
	_ = runCmd.MarkFlagRequired("target")
	_ = runCmd.MarkFlagRequired("output")
}

// applyRunFlags overlays explicitly set flags onto the loaded configuration
func applyRunFlags(cmd *cobra.Command) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("model", func() { cfg.Swapper.Model = mustGetString(cmd, "model") })
	set("pixel-boost", func() { cfg.Swapper.PixelBoost = mustGetString(cmd, "pixel-boost") })
	set("mode", func() { cfg.Selector.Mode = mustGetString(cmd, "mode") })
	set("order", func() { cfg.Selector.Order = mustGetString(cmd, "order") })
	set("reference-distance", func() { cfg.Selector.ReferenceDistance = float32(mustGetFloat64(cmd, "reference-distance")) })
	set("mask-types", func() { cfg.Mask.Types = mustGetStringSlice(cmd, "mask-types") })
	set("mask-regions", func() { cfg.Mask.Regions = mustGetStringSlice(cmd, "mask-regions") })
	set("providers", func() { cfg.Execution.Providers = mustGetStringSlice(cmd, "providers") })
	set("workers", func() { cfg.Execution.Workers = mustGetInt(cmd, "workers") })
	set("memory-strategy", func() { cfg.Execution.MemoryStrategy = mustGetString(cmd, "memory-strategy") })
}

func runSwap(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	job := pipeline.Job{
		SourcePaths: mustGetStringSlice(cmd, "source"),
		TargetPath:  mustGetString(cmd, "target"),
		OutputPath:  mustGetString(cmd, "output"),
	}

	processor, err := buildProcessor(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, processor.PostProcess(), inference.Shutdown())
	}()

	if err := processor.PreCheck(); err != nil {
		return err
	}
	if err := processor.PreProcess(ctx, pipeline.RunOutput, job); err != nil {
		return err
	}

	if vision.IsImage(job.TargetPath) {
		if err := processor.ProcessImage(ctx, job.SourcePaths, job.TargetPath, job.OutputPath); err != nil {
			return err
		}
		logger.Info("image written", zap.String("output", job.OutputPath))
		return nil
	}

	frames, err := stageFrames(job.TargetPath, job.OutputPath)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no image frames in %s", job.TargetPath)
	}

	bar := progressbar.NewOptions(len(frames),
		progressbar.OptionSetDescription("Swapping"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result, err := processor.ProcessBatch(ctx, job.SourcePaths, frames, func(done, total int) {
		_ = bar.Set(done)
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	logger.Info("frames written",
		zap.String("output", job.OutputPath),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Failed))
	return nil
}

// stageFrames copies the image frames of dir into outDir, which the batch
// then rewrites in place. It returns the staged paths in name order.
func stageFrames(dir, outDir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && vision.IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		dst := filepath.Join(outDir, name)
		if err := copyFile(filepath.Join(dir, name), dst); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

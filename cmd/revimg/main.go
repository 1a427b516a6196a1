package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"revimg"
	"revimg/internal/config"
	"revimg/report"
	"revimg/scan"
)

var (
	cfgFile string
	verbose bool

	keepAbsent bool
	exactMode  bool
	radius     int
	outputPath string
)

// rootCmd runs the operation named in the config when no subcommand is
// given, so `revimg` alone behaves like the configured default.
var rootCmd = &cobra.Command{
	Use:   "revimg",
	Short: "Reverse image search over a local image collection",
	Long: `revimg indexes perceptual hashes of local images in a SQLite store and a
BK-tree, keeps both in sync with the filesystem, and finds near-duplicate
images by bounded Hamming distance.`,
	Version:       revimg.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		switch cfg.Operation {
		case config.OpBuild:
			return runBuild(cfg)
		case config.OpUpdate:
			return runUpdate(cfg, cfg.DeleteAbsent())
		case config.OpSearch:
			return runSearch(cfg, false, cfg.DistanceThreshold)
		}
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the metadata store and index from the source directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Operation = config.OpBuild
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runBuild(cfg)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Incrementally sync the store and index with the source directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Operation = config.OpUpdate
		if err := cfg.Validate(); err != nil {
			return err
		}
		deleteAbsent := cfg.DeleteAbsent()
		if cmd.Flags().Changed("keep-absent") {
			deleteAbsent = !keepAbsent
		}
		return runUpdate(cfg, deleteAbsent)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the index for images similar to those in the input directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Operation = config.OpSearch
		if err := cfg.Validate(); err != nil {
			return err
		}
		r := cfg.DistanceThreshold
		if cmd.Flags().Changed("radius") {
			r = radius
		}
		return runSearch(cfg, exactMode, r)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	updateCmd.Flags().BoolVar(&keepAbsent, "keep-absent", false, "keep records for files no longer on disk")

	searchCmd.Flags().BoolVar(&exactMode, "exact", false, "exact fingerprint lookup instead of tree search")
	searchCmd.Flags().IntVar(&radius, "radius", 0, "maximum Hamming distance for a match")
	searchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the CSV report to a file instead of stdout")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(searchCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if !verbose {
		log.SetFlags(0)
	}
	return cfg, nil
}

func newEngine(cfg *config.Config) (*revimg.Engine, error) {
	return revimg.NewBuilder().
		WithMetadataDir(cfg.MetadataDir).
		WithIndexDir(cfg.IndexDir).
		WithHash(cfg.HashMethod, cfg.HashSize).
		WithDistance(cfg.DistanceMethod).
		Build()
}

// scanSources enumerates images across every configured source directory.
func scanSources(cfg *config.Config) ([]string, error) {
	var files []string
	for _, dir := range cfg.SourceDirectories {
		paths, err := scan.ImagePaths(dir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		files = append(files, paths...)
	}
	return files, nil
}

func runBuild(cfg *config.Config) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	files, err := scanSources(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := engine.RebuildMetadata(ctx, files); err != nil {
		return err
	}
	return engine.SyncIndex(ctx)
}

func runUpdate(cfg *config.Config, deleteAbsent bool) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	files, err := scanSources(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := engine.SyncMetadata(ctx, files, deleteAbsent); err != nil {
		return err
	}
	return engine.SyncIndex(ctx)
}

func runSearch(cfg *config.Config, exact bool, radius int) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.SyncIndex(ctx); err != nil {
		return err
	}

	inputs, err := scan.ImagePaths(cfg.InputDirectory)
	if err != nil {
		return fmt.Errorf("scan %s: %w", cfg.InputDirectory, err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no query images found in %s", cfg.InputDirectory)
	}

	mode := revimg.ModeTree
	if exact {
		mode = revimg.ModeExact
	}
	results, err := engine.Search(ctx, engine.HashFiles(inputs), mode, radius)
	if err != nil {
		return err
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return report.WriteCSV(out, results)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

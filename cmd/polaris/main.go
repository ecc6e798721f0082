package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"polaris/pkg/config"
	"polaris/pkg/geometry"
	"polaris/pkg/ingest"
	"polaris/pkg/metadata"
	"polaris/pkg/numerics"
	"polaris/pkg/progress"
	"polaris/pkg/reconstruction"
	"polaris/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Scan directory containing 01-ff and 02-tomo")
	configPath := flag.String("config", "polaris.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	envFile := flag.String("env", ".env", "Environment file with POLARIS_* overrides")
	paganin := flag.Bool("paganin", false, "Run Paganin phase retrieval")
	delta := flag.Float64("delta", 0, "Refractive index decrement (overrides config)")
	beta := flag.Float64("beta", 0, "Absorption index (overrides config)")
	energy := flag.Float64("energy", 0, "Beam energy in eV (overrides config)")
	roiAngle := flag.String("roi-angle", "", "Angle ROI as start:stop:step")
	roiVertical := flag.String("roi-vertical", "", "Vertical ROI as start:stop:step")
	roiHorizontal := flag.String("roi-horizontal", "", "Horizontal ROI as start:stop:step")
	preview := flag.Bool("preview", false, "Save only the middle slice")
	outputDir := flag.String("output", "", "Directory for slice images (overrides config)")
	workers := flag.Int("workers", 0, "Concurrent frame loads (overrides config)")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment override: %v", err)
	}

	// Flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "paganin":
			cfg.Paganin.Enabled = *paganin
		case "delta":
			cfg.Paganin.Delta = *delta
		case "beta":
			cfg.Paganin.Beta = *beta
		case "energy":
			cfg.Paganin.EnergyEV = *energy
		case "roi-angle":
			cfg.ROI.Angle = *roiAngle
		case "roi-vertical":
			cfg.ROI.Vertical = *roiVertical
		case "roi-horizontal":
			cfg.ROI.Horizontal = *roiHorizontal
		case "preview":
			cfg.Output.Preview = *preview
		case "output":
			cfg.Output.Dir = *outputDir
		case "workers":
			cfg.Ingest.Workers = *workers
		}
	})

	fmt.Println("================================")
	fmt.Println("POLARIS CONE-BEAM PHASE-CONTRAST TOMOGRAPHY")
	fmt.Println("================================")

	logger := log.New(os.Stderr, "", log.LstdFlags)
	// Warnings are always logged; verbosity gates stage and frame lines.
	var obs progress.Observer = progress.NewLogObserver(logger)
	if !cfg.Output.Verbose {
		obs = progress.Quiet(obs)
	}

	roi, err := cfg.Region()
	if err != nil {
		log.Fatalf("Invalid ROI: %v", err)
	}

	layout := ingest.NewLayout(*inputDir)
	if err := layout.Check(); err != nil {
		log.Fatalf("Invalid scan directory: %v", err)
	}
	records, err := layout.ReadRecords()
	if err != nil {
		log.Fatalf("Failed to read metadata: %v", err)
	}
	md, err := metadata.NewParser(cfg.CameraRegistry(), obs).Parse(records)
	if err != nil {
		log.Fatalf("Failed to parse metadata: %v", err)
	}

	geo, err := geometry.Build(md, roi)
	if err != nil {
		log.Fatalf("Failed to build geometry: %v", err)
	}
	fmt.Printf("ROI: %s\n", roi)
	fmt.Printf("Geometry: %s\n", geo.Acquisition)
	fmt.Printf("Expected projection data: %v\n", geo.ExpectedShape)

	startTime := time.Now()
	in := cfg.Ingestor()
	in.Observer = obs
	data, err := in.Ingest(ingest.RequestFor(layout, md, roi, geo))
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}
	fmt.Printf("Loaded %d projections and %d flats (flat mean %.1f, std %.1f)\n",
		len(data.ProjectionFiles), len(data.FlatFiles), data.FlatMean, data.FlatStdDev)

	pipeline, err := reconstruction.NewPipeline(data.Data, numerics.New(), cfg.PipelineParams(), obs)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	vol, err := pipeline.Run(cfg.Paganin.Enabled)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nReconstruction %s completed in %.2f seconds\n", pipeline.ID(), processingTime.Seconds())
	for _, a := range pipeline.Log() {
		fmt.Printf("- %-18s %v %s\n", a.Name, a.Shape, a.DType)
	}

	if cfg.Output.Preview {
		slice, err := pipeline.MiddleSlice()
		if err != nil {
			log.Fatalf("Failed to extract middle slice: %v", err)
		}
		path := filepath.Join(cfg.Output.Dir, "middle_slice.png")
		if err := visualization.SaveArray(slice, path); err != nil {
			log.Fatalf("Failed to save preview: %v", err)
		}
		fmt.Printf("Middle slice saved to: %s\n", path)
	}

	if cfg.Output.SaveSlices {
		viewer := visualization.NewViewer(vol)
		slicesPath := filepath.Join(cfg.Output.Dir, "slices")
		if err := viewer.SaveSliceSequence("z", slicesPath); err != nil {
			log.Printf("Warning: Failed to save slices: %v", err)
		} else {
			fmt.Printf("Slices saved to: %s\n", slicesPath)
		}
	}
}

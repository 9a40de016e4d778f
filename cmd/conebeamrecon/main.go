// Command conebeamrecon runs a demonstration cone-beam reconstruction: it
// renders a synthetic phantom, forward projects it into a sinogram,
// generates statistical weights, runs the VCD solver and reports quality
// metrics for the result.
package main

import (
	"flag"
	"math"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"conebeamrecon/pkg/config"
	"conebeamrecon/pkg/geometry"
	"conebeamrecon/pkg/model"
	"conebeamrecon/pkg/phantom"
	"conebeamrecon/pkg/solver"
	"conebeamrecon/pkg/visualization"
	"conebeamrecon/pkg/weights"
)

func main() {
	configPath := flag.String("config", "conebeamrecon.yaml", "Path to YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to the config path and exit")
	saveSlices := flag.Bool("save-slices", false, "Save reconstructed slices along all axes")
	slicesDir := flag.String("slices-dir", "", "Directory to save extracted slices (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.WithError(err).Fatal("Failed to write default config")
		}
		log.WithField("path", *configPath).Info("Wrote default configuration")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if !cfg.Output.Verbose {
		log.SetLevel(logrus.WarnLevel)
	}

	mag, err := cfg.Magnification()
	if err != nil {
		log.WithError(err).Fatal("Invalid geometry configuration")
	}

	// One view angle per sinogram view, evenly spaced over pi plus the
	// detector cone angle so every voxel is fully sampled.
	coneAngle := 2 * math.Atan2(float64(cfg.Sinogram.DetChannels)/2, cfg.Geometry.SourceDetectorDist)
	span := math.Pi + coneAngle
	angles := make([]float64, cfg.Sinogram.Views)
	for i := range angles {
		angles[i] = -span/2 + span*float64(i)/float64(cfg.Sinogram.Views)
	}

	m, err := model.New(model.Config{
		SinogramShape: [3]int{cfg.Sinogram.Views, cfg.Sinogram.DetRows, cfg.Sinogram.DetChannels},
		Angles:        angles,
		Geometry: geometry.Parameters{
			DeltaDetChannel:    cfg.Geometry.DeltaDetChannel,
			DeltaDetRow:        cfg.Geometry.DeltaDetRow,
			DetChannelOffset:   cfg.Geometry.DetChannelOffset,
			DetRowOffset:       cfg.Geometry.DetRowOffset,
			DetRotation:        cfg.Geometry.DetRotation,
			SourceDetectorDist: cfg.Geometry.SourceDetectorDist,
			Magnification:      mag,
			DeltaVoxel:         cfg.Geometry.DeltaVoxel,
			ReconSliceOffset:   cfg.Geometry.ReconSliceOffset,
		},
		ReconShape: [3]int{cfg.Recon.Rows, cfg.Recon.Cols, cfg.Recon.Slices},
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to construct model")
	}

	rs := m.ReconShape()
	log.WithFields(logrus.Fields{
		"sinogram":      m.SinogramShape(),
		"recon":         rs,
		"magnification": mag,
	}).Info("Model configured")

	log.Info("Creating phantom")
	truth, err := phantom.SheppLogan3D(rs[0], rs[1], rs[2])
	if err != nil {
		log.WithError(err).Fatal("Failed to generate phantom")
	}

	log.Info("Creating sinogram")
	sino, err := m.ForwardProject(truth)
	if err != nil {
		log.WithError(err).Fatal("Forward projection failed")
	}

	// Normalize before weighting so transmission weights stay in (0, 1].
	max := 0.0
	for _, v := range sino.Elements {
		if v > max {
			max = v
		}
	}
	normalized := sino.Copy()
	if max > 0 {
		for i := range normalized.Elements {
			normalized.Elements[i] /= max
		}
	}

	weightType, err := weights.ParseType(cfg.Recon.WeightType)
	if err != nil {
		log.WithError(err).Fatal("Invalid weight type")
	}
	wts, err := weights.Generate(normalized, weightType)
	if err != nil {
		log.WithError(err).Fatal("Failed to generate weights")
	}

	log.WithField("iterations", cfg.Recon.Iterations).Info("Starting VCD reconstruction")
	start := time.Now()
	res, err := solver.Recon(m, sino, wts, solver.Options{
		Iterations:        cfg.Recon.Iterations,
		Granularities:     cfg.Recon.Granularities,
		PartitionSequence: cfg.Recon.PartitionSequence,
		RegWeight:         cfg.Recon.RegWeight,
		Positivity:        cfg.Recon.Positivity,
		Seed:              cfg.Recon.Seed,
		Progress: func(iteration int, rmse float64, message string) {
			log.WithFields(logrus.Fields{
				"iteration": iteration,
				"fmRMSE":    rmse,
				"partition": message,
			}).Info("Iteration complete")
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Reconstruction failed")
	}
	elapsed := time.Since(start)

	nrmse := normalizedRMSE(truth.Elements, res.Volume.Elements)
	corr := stat.Correlation(truth.Elements, res.Volume.Elements, nil)
	log.WithFields(logrus.Fields{
		"elapsed":     elapsed.Round(time.Millisecond),
		"finalFMRMSE": res.RMSE[len(res.RMSE)-1],
		"nrmse":       nrmse,
		"correlation": corr,
	}).Info("Reconstruction complete")

	if *saveSlices || cfg.Output.SaveSlices {
		dir := cfg.Output.SlicesDir
		if *slicesDir != "" {
			dir = *slicesDir
		}
		viewer, err := visualization.NewViewer(res.Volume)
		if err != nil {
			log.WithError(err).Fatal("Failed to create viewer")
		}
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(dir, axis)
			log.WithField("dir", axisDir).Info("Saving slices")
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.WithError(err).Warnf("Failed to save %s-axis slices", axis)
			}
		}
	}

}

// normalizedRMSE returns the RMSE between truth and recon divided by the
// range of truth.
func normalizedRMSE(truth, recon []float64) float64 {
	if len(truth) == 0 || len(truth) != len(recon) {
		return math.NaN()
	}
	min, max := truth[0], truth[0]
	var mse float64
	for i, v := range truth {
		d := v - recon[i]
		mse += d * d
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mse /= float64(len(truth))
	if max == min {
		return math.NaN()
	}
	return math.Sqrt(mse) / (max - min)
}

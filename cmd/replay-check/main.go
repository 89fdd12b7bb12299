package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/checkpoint"
	"tick-replay/internal/config"
	"tick-replay/internal/recording"
	"tick-replay/internal/replay"
	"tick-replay/internal/synth"
	"tick-replay/internal/verify"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("❌ Invalid configuration")
	}

	var (
		path      = flag.String("recording", cfg.Recording.Path, "recording to verify (.jsonl or .jsonl.zst)")
		synthetic = flag.Int("synthetic", 0, "verify a generated recording with this many ticks instead")
		synthSeed = flag.Uint64("synthetic-seed", 1, "seed of the generated recording")
		seeks     = flag.Int("seeks", 200, "number of random seeks")
		seed      = flag.Uint64("seed", 1, "seed of the random seeks")
		save      = flag.String("save", "", "write the verified recording, with its checkpoints, to this path")
	)
	flag.Parse()

	log, err := cfg.Observability.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("❌ Invalid logger configuration")
	}

	gen := checkpoint.NewGenerator(cfg.Replay.CheckpointSettings(), log)
	l, file, err := load(*path, *synthetic, *synthSeed, gen, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Failed to load recording")
	}

	report, err := verify.Run(l, verify.Options{
		Settings: cfg.Replay.SeekSettings(),
		Seeks:    *seeks,
		Seed:     *seed,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("❌ Verification aborted")
	}

	fmt.Printf("ticks=%d checkpoints=%d resets=%d seeks=%d mismatches=%d took=%s\n",
		report.Ticks, report.Checkpoints, report.Resets, report.Seeks, len(report.Mismatches), report.Took)
	for _, m := range report.Mismatches {
		fmt.Println("  " + m.String())
	}
	if !report.OK() {
		os.Exit(1)
	}

	if *save != "" {
		file.Checkpoints = l.Checkpoints
		file.Times = l.ReplayTime
		if err := recording.Save(*save, file); err != nil {
			log.WithError(err).Fatal("❌ Failed to save recording")
		}
		log.WithField("path", *save).Info("💾 Recording saved")
	}
	log.Info("✅ Every seek matched sequential playback")
}

func load(path string, ticks int, seed uint64, gen *checkpoint.Generator, log logrus.FieldLogger) (*replay.Log, *recording.File, error) {
	if ticks > 0 {
		rec := synth.Generate(synth.Options{
			Ticks:           ticks,
			Seed:            seed,
			InitialEntities: 16,
			ClientSide:      true,
			UnknownEvents:   true,
		})
		cps, times, err := gen.Generate(rec.InitMessages, rec.States, rec.Messages, rec.ClientSide)
		if err != nil {
			return nil, nil, err
		}
		file := &recording.File{
			Version:      recording.FormatVersion,
			ClientSide:   rec.ClientSide,
			InitMessages: rec.InitMessages,
			States:       rec.States,
			Messages:     rec.Messages,
		}
		l := &replay.Log{
			States:       rec.States,
			Messages:     rec.Messages,
			Checkpoints:  cps,
			ReplayTime:   times,
			ClientSide:   rec.ClientSide,
			InitMessages: rec.InitMessages,
			Metadata:     map[string]string{"source": "synthetic"},
		}
		return l, file, l.Validate()
	}

	if path == "" {
		return nil, nil, fmt.Errorf("no recording given; use -recording or -synthetic")
	}
	file, err := recording.Open(path)
	if err != nil {
		return nil, nil, err
	}
	l, err := recording.NewLoader(gen, nil, log).Load(context.Background(), path)
	if err != nil {
		return nil, nil, err
	}
	return l, file, nil
}

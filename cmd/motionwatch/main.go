package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/motion.watch/internal/detections"
	"github.com/banshee-data/motion.watch/internal/scene/publish"
	"github.com/banshee-data/motion.watch/internal/version"
)

var (
	input          = flag.String("input", "-", "Detections file (JSON lines), or - for stdin")
	configPath     = flag.String("config", "", "Tuning config (.json, .yaml)")
	fps            = flag.Float64("fps", detections.DefaultFPS, "Frame rate used when frames carry no timestamp")
	dbPath         = flag.String("db", "", "SQLite database to record the run in")
	outJSON        = flag.String("out", "", "Write the run summary as JSON to this file")
	outHTML        = flag.String("html", "", "Write an HTML report to this file")
	outPlot        = flag.String("plot", "", "Write a timeline plot to this file (png, svg, pdf)")
	natsURL        = flag.String("nats-url", "", "Publish anomalies to this NATS server")
	natsSubject    = flag.String("nats-subject", publish.DefaultSubjectPrefix, "Subject prefix for published anomalies")
	listen         = flag.String("listen", "", "Serve /metrics and /api while the run is in progress")
	stillnessClock = flag.String("stillness-clock", clockWall, "Clock for stillness timers: wall or video")
	assigner       = flag.String("assigner", "", "Override the track assigner: greedy or hungarian")
	verbose        = flag.Bool("v", false, "Log track lifecycle and per-frame detail")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func optionsFromFlags() options {
	return options{
		Input:          *input,
		ConfigPath:     *configPath,
		FPS:            *fps,
		DBPath:         *dbPath,
		OutJSON:        *outJSON,
		OutHTML:        *outHTML,
		OutPlot:        *outPlot,
		NATSURL:        *natsURL,
		NATSSubject:    *natsSubject,
		Listen:         *listen,
		StillnessClock: *stillnessClock,
		Assigner:       *assigner,
		Verbose:        *verbose,
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := optionsFromFlags()
	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	summary, err := run(ctx, opts, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("interrupted after %d frames", summary.TotalFrames)
		os.Exit(130)
	case err != nil:
		log.Fatalf("analysis failed: %v", err)
	}
	log.Printf("done: frames=%d tracks=%d anomalies=%d high=%d",
		summary.TotalFrames, summary.Totals.Tracks, summary.Totals.Anomalies, summary.Totals.HighSeverity)
}

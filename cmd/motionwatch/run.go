package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/motion.watch/internal/api"
	"github.com/banshee-data/motion.watch/internal/config"
	"github.com/banshee-data/motion.watch/internal/detections"
	"github.com/banshee-data/motion.watch/internal/monitoring"
	"github.com/banshee-data/motion.watch/internal/observability"
	"github.com/banshee-data/motion.watch/internal/report"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
	"github.com/banshee-data/motion.watch/internal/scene/publish"
	"github.com/banshee-data/motion.watch/internal/scene/storage/sqlite"
	"github.com/banshee-data/motion.watch/internal/timeutil"
)

const (
	clockWall  = "wall"
	clockVideo = "video"
)

type options struct {
	Input          string
	ConfigPath     string
	FPS            float64
	DBPath         string
	OutJSON        string
	OutHTML        string
	OutPlot        string
	NATSURL        string
	NATSSubject    string
	Listen         string
	StillnessClock string
	Assigner       string
	Verbose        bool
}

func (o options) validate() error {
	if o.Input == "" {
		return errors.New("-input is required")
	}
	switch o.StillnessClock {
	case clockWall, clockVideo:
	default:
		return fmt.Errorf("-stillness-clock must be %s or %s, got %q", clockWall, clockVideo, o.StillnessClock)
	}
	return nil
}

func loadTuning(o options) (*config.TuningConfig, error) {
	tc := config.DefaultTuningConfig()
	if o.ConfigPath != "" {
		loaded, err := config.LoadTuningConfig(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		tc = loaded
	}
	if o.Assigner != "" {
		name := o.Assigner
		tc.Assigner = &name
		if err := tc.Validate(); err != nil {
			return nil, err
		}
	}
	return tc, nil
}

func newClock(name string) timeutil.Clock {
	if name == clockVideo {
		return timeutil.NewStepClock(time.Unix(0, 0).UTC())
	}
	return timeutil.RealClock{}
}

// run wires the pipeline to its source and sinks, processes the whole input
// and writes the requested reports. Reports are written for partial runs too.
func run(ctx context.Context, o options, reg prometheus.Registerer, gatherer prometheus.Gatherer) (pipeline.Summary, error) {
	monitoring.SetVerbose(o.Verbose)
	if o.Verbose {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, nil)
	}

	tc, err := loadTuning(o)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("load config: %w", err)
	}

	cfg, err := pipeline.NewConfigFromTuning(tc, newClock(o.StillnessClock))
	if err != nil {
		return pipeline.Summary{}, err
	}
	cfg.Observer = observability.NewMetrics(reg)

	src, err := detections.Open(o.Input, o.FPS)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer src.Close()

	var (
		store *sqlite.Store
		runID string
	)
	if o.DBPath != "" {
		store, err = sqlite.Open(o.DBPath)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer store.Close()

		runID, err = store.StartRun(o.Input, tc)
		if err != nil {
			return pipeline.Summary{}, err
		}
		cfg.Persistence = store.Sink(runID)
		log.Printf("recording run %s in %s", runID, o.DBPath)
	}

	if o.NATSURL != "" {
		pub, err := publish.Connect(o.NATSURL, o.NATSSubject)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Printf("nats drain: %v", err)
			}
		}()
		cfg.Publisher = pub
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	if o.Listen != "" {
		var runs api.RunStore
		if store != nil {
			runs = store
		}
		stopServer := serve(o.Listen, api.NewServer(p, runs, gatherer))
		defer stopServer()
	}

	summary, runErr := p.Run(ctx, src)
	if n := p.PublishErrors(); n > 0 {
		log.Printf("%d frames failed to publish", n)
	}

	if store != nil {
		if err := store.FinishRun(runID, summary, runErr); err != nil {
			return summary, errors.Join(runErr, err)
		}
	}
	if err := writeReports(o, summary); err != nil {
		return summary, errors.Join(runErr, err)
	}
	return summary, runErr
}

func writeReports(o options, s pipeline.Summary) error {
	if o.OutJSON != "" {
		if err := report.WriteJSON(o.OutJSON, s); err != nil {
			return err
		}
		log.Printf("wrote summary to %s", o.OutJSON)
	}
	if o.OutHTML != "" {
		if err := report.WriteHTML(o.OutHTML, s); err != nil {
			return err
		}
		log.Printf("wrote report to %s", o.OutHTML)
	}
	if o.OutPlot != "" {
		if err := report.PlotTimeline(o.OutPlot, s); err != nil {
			return err
		}
		log.Printf("wrote timeline to %s", o.OutPlot)
	}
	return nil
}

// serve starts the HTTP server in the background and returns a function
// that shuts it down.
func serve(addr string, srv *api.Server) func() {
	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(srv.ServeMux()),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("serving metrics and api on %s", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}
}

// Command stackacq runs the serial block-face acquisition controller: it
// wires the session configuration, grid setup, sqlite stores, stage link
// and HTTP control surface together and executes the slice loop.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/microvolume/stackacq/internal/acq"
	"github.com/microvolume/stackacq/internal/api"
	"github.com/microvolume/stackacq/internal/config"
	"github.com/microvolume/stackacq/internal/coord"
	"github.com/microvolume/stackacq/internal/db"
	"github.com/microvolume/stackacq/internal/grid"
	"github.com/microvolume/stackacq/internal/monitor"
	"github.com/microvolume/stackacq/internal/stagelink"
	"github.com/microvolume/stackacq/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to session config JSON (defaults apply when empty)")
	setupPath  = flag.String("setup", "", "Path to grid setup YAML (a single default grid is created when empty)")
	dbFile     = flag.String("db", "stackacq.db", "Path to the sqlite database")
	listen     = flag.String("listen", ":8080", "Listen address for the control API")
	simMode    = flag.Bool("sim", false, "Run against simulated hardware")
	portPath   = flag.String("port", "/dev/ttyUSB0", "Serial port of the stage controller")
	baudRate   = flag.Int("baud", 9600, "Baud rate of the stage controller port")
	autoStart  = flag.Bool("start", false, "Begin acquiring immediately instead of waiting for /api/acq/start")
)

func main() {
	flag.Parse()

	log.Printf("stackacq %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptySessionConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadSessionConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load session config: %v", err)
		}
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	frame := coord.NewFrame()
	var mgr *grid.Manager
	if *setupPath != "" {
		mgr, err = grid.LoadSetup(*setupPath, frame)
		if err != nil {
			log.Fatalf("failed to load grid setup: %v", err)
		}
	} else {
		mgr = grid.NewManager(frame)
		n := mgr.AddGrid()
		if err := mgr.SelectAllTiles(n); err != nil {
			log.Fatalf("failed to initialise default grid: %v", err)
		}
		log.Printf("[Main] no grid setup given, created default %d grid(s)", mgr.NumberGrids())
	}

	var stage acq.StageDriver
	if *simMode {
		stage = acq.NewSimStage()
		log.Printf("[Main] running with simulated stage")
	} else {
		link, err := stagelink.OpenLink(*portPath, stagelink.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open stage link on %s: %v", *portPath, err)
		}
		defer link.Close()
		stage = acq.NewSerialStage(link)
	}

	// Imaging always runs against the simulator here; the vendor imaging
	// bridge registers a real ImagingDriver in its own build.
	imaging := acq.NewSimImaging()
	inspector := acq.NewSimInspector()
	inspector.MeanMin = cfg.GetTileMeanMin()
	inspector.MeanMax = cfg.GetTileMeanMax()
	inspector.StddevMin = cfg.GetTileStddevMin()
	inspector.StddevMax = cfg.GetTileStddevMax()
	inspector.DebrisMeanDiff = cfg.GetDebrisMeanThreshold()
	inspector.DebrisStddevDiff = cfg.GetDebrisStddevThreshold()

	recorder := monitor.NewRecorder(log.Default())

	plotter := monitor.NewFocusPlotter()
	plotDir := monitor.MakePlotOutputDir(cfg.GetBaseDir(), cfg.GetStackName())
	if err := plotter.Start(plotDir); err != nil {
		log.Printf("[Main] focus plotter disabled: %v", err)
	}
	recorder.SliceHook = func(slice int) {
		wd, err := imaging.WorkingDistance()
		if err != nil {
			return
		}
		stigX, stigY, err := imaging.Stigmation()
		if err != nil {
			return
		}
		plotter.Sample(slice, mgr.Snapshot(), wd, stigX, stigY)
	}

	runs := db.NewRunStore(database)
	tiles := db.NewTileLogStore(database)
	debris := db.NewDebrisLogStore(database)

	ctrl := acq.NewController(acq.Options{
		Config:    cfg,
		Grids:     mgr,
		Stage:     stage,
		Imaging:   imaging,
		Inspector: inspector,
		Sink:      recorder,
		States:    db.NewStateStore(database),
		Runs:      runs,
		Tiles:     tiles,
		Debris:    debris,
		BaseDir:   cfg.GetBaseDir(),
	})

	server := api.NewServer(api.ServerConfig{
		Address:    *listen,
		Controller: ctrl,
		Session:    cfg,
		Grids:      mgr,
		Recorder:   recorder,
		Charts:     monitor.NewCharts(tiles, debris, runs, mgr),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("control server error: %v", err)
		}
		log.Print("control server routine terminated")
	}()

	if *autoStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctrl.Run(ctx); err != nil {
				log.Printf("acquisition ended with error: %v", err)
			}
			log.Print("acquisition routine terminated")
		}()
	}

	<-ctx.Done()
	ctrl.Stop()
	wg.Wait()

	plotter.Stop()
	if count, err := plotter.GeneratePlots(); err != nil {
		log.Printf("[Main] focus plot generation failed: %v", err)
	} else if count > 0 {
		log.Printf("[Main] wrote %d focus plot(s) to %s", count, plotDir)
	}
	log.Printf("Graceful shutdown complete")
}

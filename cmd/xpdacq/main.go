package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/theckman/yacspin"
	"golang.org/x/sync/errgroup"
	yml "gopkg.in/yaml.v2"

	"github.com/xpdacq/acq/beamline"
	"github.com/xpdacq/acq/beamtime"
	"github.com/xpdacq/acq/callbacks"
	"github.com/xpdacq/acq/generichttp"
	"github.com/xpdacq/acq/generichttp/acq"
	"github.com/xpdacq/acq/runengine"
	"github.com/xpdacq/acq/server/middleware/locker"
	"github.com/xpdacq/acq/util"
	"github.com/xpdacq/acq/xrun"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "xpdacq.yml"
)

func loadconfig() beamline.Config {
	cfg, err := beamline.LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return cfg
}

func root() {
	str := `xpdacq dispatches acquisition plans on a simulated powder diffraction beamline
and exposes the beamline over HTTP.

Usage:
	xpdacq <command>

Commands:
	run
	ct <exposure> [sample name]
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `xpdacq is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

mkconf writes the defaults to xpdacq.yml, conf prints the configuration in use.

run serves the beamline under Root, e.g. with Root "/xpd":
	GET  /xpd/shutter              {"str": "fs"}
	POST /xpd/shutter              {"str": "photon"} or {"str": "fast"}
	GET  /xpd/frame-acq-time       {"f64": 0.1}
	POST /xpd/frame-acq-time       {"f64": 0.2}
	GET  /xpd/devices
	POST /xpd/ct                   {"exposure": 5, "sample": {...}, "md": {...}}
	GET  /xpd/ct/summary?exposure=5
	GET  /xpd/runs, /xpd/runs/{uid}
	GET  /xpd/lock, POST /xpd/lock {"bool": true}
	GET  /endpoints
	GET  /metrics

While a ct is running every other route under Root returns 423 (locked).
md may not repeat a key of sample, such a request returns 400.

ct takes one exposure locally and prints the live table.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("xpdacq version %v\n", Version)
}

// setup builds the simulated beamline and its dispatcher from c
func setup(c beamline.Config, logger *slog.Logger, reg prometheus.Registerer) (*beamline.Context, *xrun.CustomizedRunEngine, xrun.Options) {
	bl, _ := beamline.Simulated(c)
	re := xrun.New(runengine.New(logger), bl, logger)
	re.Broker = callbacks.NewBroker()
	if reg != nil {
		m, err := xrun.NewMetrics(reg)
		if err != nil {
			log.Fatal(err)
		}
		re.Metrics = m
	}
	opts := xrun.DefaultOptions()
	opts.AutoDark = c.AutoDark
	opts.DarkWindow = c.DarkWindow()
	return bl, re, opts
}

// BuildMux mounts the beamline routes under c.Root behind a lock, and adds
// /endpoints and /metrics at the top level
func BuildMux(c beamline.Config, bl *beamline.Context, re *xrun.CustomizedRunEngine, opts xrun.Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "runs")
	httper := acq.NewHTTPWrapper(bl, re, lock, opts)
	locker.Inject(httper, lock)

	stem := generichttp.SubMuxSanitize(c.Root)
	sub := chi.NewRouter()
	sub.Use(lock.Check)
	httper.RT().Bind(sub)
	r.Mount(stem, sub)

	supergraph := map[string][]string{stem: httper.RT().Endpoints()}
	r.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func run() {
	c := loadconfig()
	logger, err := util.SetupLogger(c.LogLevel, c.LogFormat, c.LogFile)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)
	bl, re, opts := setup(c, logger, prometheus.DefaultRegisterer)
	srv := &http.Server{Addr: c.Addr, Handler: BuildMux(c, bl, re, opts)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("now listening for requests", "addr", c.Addr, "root", c.Root)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func ct(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: xpdacq ct <exposure> [sample name]")
	}
	exposure, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		log.Fatalf("exposure %q is not a number", args[0])
	}
	sample := &beamtime.Sample{Name: "unnamed"}
	if len(args) > 1 {
		sample.Name = strings.Join(args[1:], " ")
	}
	c := loadconfig()
	logger := util.NewLogger(os.Stderr, c.LogLevel, c.LogFormat)
	slog.SetDefault(logger)
	_, re, opts := setup(c, logger, nil)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           fmt.Sprintf("ct(%v) on %s", exposure, sample.Name),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            os.Stderr,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := spinner.Start(); err != nil {
		log.Fatal(err)
	}
	uids, err := re.Run(context.Background(), sample, beamtime.CTPlan(exposure, nil), nil, opts, nil)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("%d run(s): %s", len(uids), strings.Join(uids, ", ")))
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "ct":
		ct(args[2:])
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}

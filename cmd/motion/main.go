package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/physic"
	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/camera"
	"github.com/banshee-data/motion.report/internal/classify"
	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/evidence"
	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/pipeline"
	"github.com/banshee-data/motion.report/internal/sensor"
	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/tof"
	"github.com/banshee-data/motion.report/internal/version"
	"github.com/banshee-data/motion.report/internal/vision"
)

// Source, camera and classifier drivers.
const (
	sourceADS1115 = "ads1115"
	sourceSerial  = "serial"
	sourceReplay  = "replay"

	cameraRPi     = "rpicam"
	cameraDevice  = "device"
	cameraFixture = "fixture"

	classifierONNX   = "onnx"
	classifierRemote = "remote"
)

var (
	configPath  = flag.String("config", "", "Pipeline config file (.json or .toml); defaults to "+config.DefaultConfigPath+" when present")
	dbPath      = flag.String("db", "motion.db", "SQLite event database")
	listen      = flag.String("listen", "", "Admin listen address, e.g. localhost:8080 (disabled when empty)")
	devMode     = flag.Bool("dev", false, "Run without hardware: replay source and fixture camera")
	showVersion = flag.Bool("version", false, "Print version and exit")
	traceLog    = flag.Bool("trace", false, "Log every reading")

	sourceKind  = flag.String("source", sourceADS1115, "Signal source: ads1115, serial or replay")
	i2cBus      = flag.String("i2c-bus", "", "I²C bus name for the ADC and ToF sensor (empty for the first bus)")
	adcAddress  = flag.Uint("adc-address", 0x48, "ADS1115 I²C address")
	adcChannel  = flag.Int("adc-channel", 0, "ADS1115 single-ended channel")
	adcMaxVolts = flag.Float64("adc-max-volts", 5, "ADS1115 full-scale voltage")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Serial port streaming ADC readings")
	baudRate    = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	serialInit  = flag.String("serial-init", "", "Command written to the serial device on start")
	replayPath  = flag.String("replay", "fixtures/readings.txt", "Recorded readings for the replay source")
	replayLoop  = flag.Bool("replay-loop", false, "Restart the replay file when it ends")

	cameraKind    = flag.String("camera", cameraRPi, "Camera driver: rpicam, device or fixture")
	cameraCommand = flag.String("camera-command", camera.DefaultCommand, "Still capture command for the rpicam driver")
	cameraDevice  = flag.Int("camera-device", 0, "OpenCV capture device id")
	cameraImage   = flag.String("camera-fixture", "fixtures/motion.jpg", "Image copied by the fixture camera")

	classifierKind = flag.String("classifier", classifierONNX, "Classifier: onnx or remote (used when classify is enabled)")
	modelPath      = flag.String("model", vision.DefaultONNXConfig().ModelPath, "ONNX classification model")
	labelsPath     = flag.String("labels", vision.DefaultONNXConfig().LabelsPath, "Class label file")
	classifierURL  = flag.String("classifier-url", "http://localhost:8000/classify", "Remote classifier endpoint")

	tofAddress = flag.Uint("tof-address", tof.DefaultAddress, "TOF10120 I²C address")

	threshold   = flag.Float64("threshold", 60, "Trigger threshold (overrides config)")
	cooldown    = flag.Duration("cooldown", time.Second, "Trigger cooldown (overrides config)")
	period      = flag.Duration("period", 100*time.Millisecond, "Sampling period (overrides config)")
	evidenceDir = flag.String("evidence-dir", "evidence", "Evidence directory (overrides config)")
	classifyOn  = flag.Bool("classify", false, "Enable the classifier (overrides config)")
	rangeOn     = flag.Bool("range", false, "Enable the ToF range sensor (overrides config)")
	spectralOn  = flag.Bool("spectral", true, "Enable Doppler estimation (overrides config)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("motion", version.String())
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	monitoring.SetLogWriters(os.Stderr, os.Stderr, traceWriter(*traceLog))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlagOverrides(cfg, set)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("motion: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func traceWriter(enabled bool) io.Writer {
	if enabled {
		return os.Stderr
	}
	return nil
}

// loadConfig reads path, or the canonical defaults file when path is empty
// and the file exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.PipelineConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.DefaultPipelineConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadPipelineConfig(path)
}

// applyFlagOverrides copies explicitly set flags onto cfg. Unset flags leave
// the file values alone.
func applyFlagOverrides(cfg *config.PipelineConfig, set map[string]bool) {
	if set["threshold"] {
		v := *threshold
		cfg.Threshold = &v
	}
	if set["cooldown"] {
		v := cooldown.String()
		cfg.Cooldown = &v
	}
	if set["period"] {
		v := period.String()
		cfg.Period = &v
		// the estimator samples once per tick
		cfg.SampleRate = nil
	}
	if set["evidence-dir"] {
		v := *evidenceDir
		cfg.EvidenceDir = &v
	}
	if set["classify"] {
		v := *classifyOn
		cfg.ClassifyEnabled = &v
	}
	if set["range"] {
		v := *rangeOn
		cfg.RangeEnabled = &v
	}
	if set["spectral"] {
		v := *spectralOn
		cfg.SpectralEnabled = &v
	}
}

// closers releases collaborators in reverse order of construction.
type closers []io.Closer

func (c *closers) add(cl io.Closer) { *c = append(*c, cl) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func run(parent context.Context, cfg *config.PipelineConfig) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		cl    closers
		wg    sync.WaitGroup
		clock = timeutil.RealClock{}
	)
	defer cl.closeAll()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	cl.add(database)

	kind := *sourceKind
	if *devMode {
		kind = sourceReplay
	}
	src, serialMux, err := openSource(kind, cfg, clock)
	if err != nil {
		return err
	}
	cl.add(src)
	if serialMux != nil {
		cl.add(serialMux)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("serial monitor routine terminated")
		}()
	}

	camKind := *cameraKind
	if *devMode {
		camKind = cameraFixture
	}
	cam, camCloser, err := openCamera(camKind)
	if err != nil {
		return err
	}
	if camCloser != nil {
		cl.add(camCloser)
	}

	deps := pipeline.Deps{Source: src, Camera: cam, Store: database, Clock: clock}
	if cfg.GetClassifyEnabled() {
		c, closer, err := openClassifier(*classifierKind)
		if err != nil {
			return err
		}
		if closer != nil {
			cl.add(closer)
		}
		deps.Classifier = c
	}
	if cfg.GetRangeEnabled() {
		ranger, err := tof.Open(*i2cBus, uint16(*tofAddress))
		if err != nil {
			return fmt.Errorf("failed to open range sensor: %w", err)
		}
		cl.add(ranger)
		deps.Range = ranger
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}

	if *listen != "" {
		mux := http.NewServeMux()
		if err := database.AttachAdminRoutes(mux, cfg.GetEvidenceDir()); err != nil {
			return err
		}
		p.AttachAdminRoutes(mux)
		if serialMux != nil {
			serialMux.AttachAdminRoutes(mux)
		}
		debug := tsweb.Debugger(mux)
		debug.KV("Version", version.String())
		debug.KV("Session", p.SessionID())
		debug.KV("Capabilities", p.Capabilities().String())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, map[string]string{"status": "ok", "session_id": p.SessionID()})
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveAdmin(ctx, *listen, mux)
		}()
	}

	err = p.Run(ctx)
	if ctx.Err() == nil {
		log.Printf("pipeline finished: %s", p.Stats())
		if *listen == "" {
			cancel()
		} else {
			log.Printf("admin server still running on %s, interrupt to exit", *listen)
		}
	}
	wg.Wait()
	return err
}

func openSource(kind string, cfg *config.PipelineConfig, clock timeutil.Clock) (sensor.Source, serialmux.SerialMuxInterface, error) {
	switch kind {
	case sourceADS1115:
		src, err := sensor.OpenADS1115(sensor.ADS1115Config{
			Bus:        *i2cBus,
			Address:    uint16(*adcAddress),
			Channel:    *adcChannel,
			MaxVoltage: physic.ElectricPotential(*adcMaxVolts * float64(physic.Volt)),
		}, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open ADS1115: %w", err)
		}
		return src, nil, nil
	case sourceSerial:
		mux, err := serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open serial port %s: %w", *serialPort, err)
		}
		var cmds []string
		if *serialInit != "" {
			cmds = append(cmds, *serialInit)
		}
		if err := mux.Initialize(cmds...); err != nil {
			mux.Close()
			return nil, nil, fmt.Errorf("failed to initialise serial device: %w", err)
		}
		log.Printf("initialised serial device %s at %d baud", *serialPort, *baudRate)
		return sensor.NewSerialSource(mux, clock, cfg.GetPeriod()), mux, nil
	case sourceReplay:
		src, err := sensor.OpenReplayFile(*replayPath, *replayLoop, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		log.Printf("replaying %d readings from %s", src.Len(), *replayPath)
		return src, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want %s, %s or %s)", kind, sourceADS1115, sourceSerial, sourceReplay)
	}
}

func openCamera(kind string) (evidence.Camera, io.Closer, error) {
	switch kind {
	case cameraRPi:
		cam := camera.NewRPiCamera()
		cam.Command = *cameraCommand
		return cam, nil, nil
	case cameraDevice:
		cam, err := vision.OpenDeviceCamera(*cameraDevice, 5)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open camera device %d: %w", *cameraDevice, err)
		}
		return cam, cam, nil
	case cameraFixture:
		fs := fsutil.OSFileSystem{}
		if !fs.Exists(*cameraImage) {
			return nil, nil, fmt.Errorf("fixture image %s not found", *cameraImage)
		}
		return camera.NewFixtureCamera(fs, *cameraImage), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown camera %q (want %s, %s or %s)", kind, cameraRPi, cameraDevice, cameraFixture)
	}
}

func openClassifier(kind string) (evidence.Classifier, io.Closer, error) {
	switch kind {
	case classifierONNX:
		cfg := vision.DefaultONNXConfig()
		cfg.ModelPath = *modelPath
		cfg.LabelsPath = *labelsPath
		c, err := vision.NewONNXClassifier(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load classifier: %w", err)
		}
		return c, c, nil
	case classifierRemote:
		return classify.NewRemote(*classifierURL, nil), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown classifier %q (want %s or %s)", kind, classifierONNX, classifierRemote)
	}
}

func serveAdmin(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("admin server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down admin server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("admin server force close error: %v", err)
		}
	}
	log.Printf("admin server routine stopped")
}

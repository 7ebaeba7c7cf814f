// fleetctl drives a fleet of GigE Vision cameras through PTP
// synchronization, bandwidth scheduling, and multi-stream acquisition.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fleetvision/orchestrator/internal/acquisition"
	"github.com/fleetvision/orchestrator/internal/bandwidth"
	"github.com/fleetvision/orchestrator/internal/camera"
	"github.com/fleetvision/orchestrator/internal/config"
	"github.com/fleetvision/orchestrator/internal/devicemgr"
	"github.com/fleetvision/orchestrator/internal/display"
	"github.com/fleetvision/orchestrator/internal/gentl"
	"github.com/fleetvision/orchestrator/internal/gentl/simulated"
	"github.com/fleetvision/orchestrator/internal/lifecycle"
	"github.com/fleetvision/orchestrator/internal/obs"
	"github.com/fleetvision/orchestrator/internal/persist"
	"github.com/fleetvision/orchestrator/internal/ptp"
	"github.com/fleetvision/orchestrator/internal/registry"
)

// Exit codes: 0 success, 1 user-input/semantic error, 2 runtime failure.
const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 2
)

var log = obs.Log

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("fleetctl", flag.ContinueOnError)

	listFlag := fs.Bool("list", false, "enumerate and print cameras")
	startFlag := fs.Bool("start", false, "open listed cameras, run PTP + bandwidth pipeline, stream until interrupt")
	enablePtpFlag := fs.Bool("enable-ptp", false, "enable PTP on the listed cameras and run the synchronization controller")
	disablePtpFlag := fs.Bool("disable-ptp", false, "disable PTP on the listed cameras")
	setFeatureFlag := fs.Bool("set-feature", false, "write a feature to the listed cameras")

	camerasFlag := fs.String("cameras", "", "comma-separated camera ids")
	delayFlag := fs.Int("delay", 0, "artificial startup delay in milliseconds before streaming begins")
	noSaveFlag := fs.Bool("no-save", false, "disable frame/CSV persistence for this session")

	featureFlag := fs.String("feature", "", "logical or raw feature name for --set-feature")
	valueFlag := fs.String("value", "", "value to write for --set-feature")
	typeFlag := fs.String("type", "string", "value type for --set-feature: int|float|bool|string|enum")

	simFlag := fs.Bool("sim", false, "use the in-memory simulated producer instead of a real GenTL producer")
	simCountFlag := fs.Int("sim-count", 2, "number of simulated cameras when --sim is given")
	configFlag := fs.String("config", "", "optional session-defaults YAML file")
	outputDirFlag := fs.String("output", "", "override the session defaults' output directory")
	websocketFlag := fs.String("websocket-addr", "", "if set, serve the composite feed over ws:// at this address (host:port)")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "fleetctl — GigE Vision fleet orchestrator")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Usage:")
		fmt.Fprintln(fs.Output(), `  fleetctl --list [--cameras "csv"]`)
		fmt.Fprintln(fs.Output(), `  fleetctl --start --cameras "csv" [--delay ms] [--no-save]`)
		fmt.Fprintln(fs.Output(), `  fleetctl --enable-ptp --cameras "csv"`)
		fmt.Fprintln(fs.Output(), `  fleetctl --disable-ptp --cameras "csv"`)
		fmt.Fprintln(fs.Output(), `  fleetctl --set-feature --feature <name> --value <v> [--cameras "csv"]`)
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}

	if fs.NFlag() == 0 {
		fs.Usage()
		return exitOK
	}

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil {
			log.WithError(err).Error("fleetctl: failed to load config")
			return exitUsage
		}
		cfg = loaded
	}
	if *outputDirFlag != "" {
		cfg.Storage.OutputDir = *outputDirFlag
	}
	if *noSaveFlag {
		cfg.Storage.SaveFrames = false
	}

	if !*simFlag {
		log.Error("fleetctl: no real GenTL producer loader is implemented in this build; pass --sim to use the simulated producer")
		return exitUsage
	}

	ctx := context.Background()
	mgr, reg, err := bootstrapSimulated(ctx, *simCountFlag)
	if err != nil {
		log.WithError(err).Error("fleetctl: failed to bootstrap simulated fleet")
		return exitRuntime
	}

	switch {
	case *listFlag:
		return cmdList(ctx, mgr, reg, *camerasFlag, cfg)
	case *startFlag:
		ids, err := requireCameras(*camerasFlag)
		if err != nil {
			log.WithError(err).Error("fleetctl: --start requires --cameras")
			return exitUsage
		}
		return cmdStart(ctx, mgr, ids, cfg, time.Duration(*delayFlag)*time.Millisecond, *websocketFlag)
	case *enablePtpFlag:
		ids, err := requireCameras(*camerasFlag)
		if err != nil {
			log.WithError(err).Error("fleetctl: --enable-ptp requires --cameras")
			return exitUsage
		}
		return cmdPtp(ctx, mgr, ids, cfg, true)
	case *disablePtpFlag:
		ids, err := requireCameras(*camerasFlag)
		if err != nil {
			log.WithError(err).Error("fleetctl: --disable-ptp requires --cameras")
			return exitUsage
		}
		return cmdPtp(ctx, mgr, ids, cfg, false)
	case *setFeatureFlag:
		return cmdSetFeature(ctx, mgr, *camerasFlag, *featureFlag, *valueFlag, *typeFlag)
	default:
		fs.Usage()
		return exitOK
	}
}

func requireCameras(csv string) ([]string, error) {
	ids := splitCSV(csv)
	if len(ids) == 0 {
		return nil, fmt.Errorf("--cameras must name at least one camera id")
	}
	return ids, nil
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// bootstrapSimulated wires a registry and device manager against an
// in-memory simulated producer, the same construction internal/devicemgr's
// own tests use. Production wiring would resolve a real .cti loader here
// instead; no such loader ships in this repo.
func bootstrapSimulated(ctx context.Context, n int) (*devicemgr.Manager, *registry.Registry, error) {
	producer := simulated.New("sim://fleetctl", n)
	systems, err := producer.OpenSystems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening simulated systems: %w", err)
	}
	if len(systems) == 0 {
		return nil, nil, fmt.Errorf("simulated producer reported no systems")
	}
	ifaces, err := systems[0].OpenInterfaces(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("opening simulated interfaces: %w", err)
	}
	if len(ifaces) == 0 {
		return nil, nil, fmt.Errorf("simulated system reported no interfaces")
	}
	iface := ifaces[0]

	reg := registry.New(func(path string) (gentl.Producer, error) { return producer, nil })
	opener := func(ctx context.Context, info gentl.DeviceInfo) (gentl.Device, error) {
		return iface.OpenDevice(ctx, info.ID)
	}
	return devicemgr.New(reg, opener), reg, nil
}

// cmdList enumerates every reachable camera. When --cameras names specific
// ids, each named camera is additionally opened just long enough to print
// its firmware dialect and latch its PTP role and offset. The link speed
// printed is the value last read when PTP was enabled through the handle;
// this path does not enable PTP, so it is reported as 0.
func cmdList(ctx context.Context, mgr *devicemgr.Manager, reg *registry.Registry, camerasCSV string, cfg config.SessionConfig) int {
	devices, err := reg.Enumerate(ctx)
	if err != nil {
		log.WithError(err).Error("fleetctl: enumeration failed")
		return exitRuntime
	}
	if len(devices) == 0 {
		fmt.Println("no cameras found")
		return exitOK
	}

	filter := map[string]bool{}
	for _, id := range splitCSV(camerasCSV) {
		filter[id] = true
	}

	var detailIDs []string
	for _, d := range devices {
		if len(filter) > 0 && !filter[d.ID] {
			continue
		}
		fmt.Printf("%s\tserial=%s\tvendor=%s\tmodel=%s\n", d.ID, d.SerialNumber, d.Vendor, d.Model)
		fmt.Printf("  mac=%s ip=%s producer=%s interface=%s\n", d.MACAddress, d.CurrentIP, d.ProducerPath, d.InterfaceID)
		if len(filter) > 0 {
			detailIDs = append(detailIDs, d.ID)
		}
	}
	if len(detailIDs) == 0 {
		return exitOK
	}

	if err := mgr.RefreshAvailable(ctx); err != nil {
		log.WithError(err).Warn("fleetctl: could not refresh available devices for detail view")
		return exitOK
	}
	handles, err := mgr.Open(ctx, detailIDs, cameraConfigFrom(cfg), camera.AccessReadOnly)
	if err != nil {
		log.WithError(err).Warn("fleetctl: some cameras could not be opened for detail view")
	}
	defer mgr.CloseAll()

	for _, h := range handles {
		identity := h.Identity()
		ptpState, err := h.LatchPtpState()
		if err != nil {
			ptpState = h.PtpSnapshot()
		}
		fmt.Printf("  %s: dialect=%s linkSpeedBps=%d ptpRole=%s ptpOffsetNs=%d\n",
			identity.ID, identity.FirmwareDialect, h.LinkSpeedBps(), ptpState.Role, ptpState.OffsetFromMasterNs)
	}
	return exitOK
}

func cmdPtp(ctx context.Context, mgr *devicemgr.Manager, ids []string, cfg config.SessionConfig, enable bool) int {
	if err := mgr.RefreshAvailable(ctx); err != nil {
		log.WithError(err).Error("fleetctl: refreshing available devices failed")
		return exitRuntime
	}
	handles, err := mgr.Open(ctx, ids, cameraConfigFrom(cfg), camera.AccessControl)
	if err != nil {
		log.WithError(err).Warn("fleetctl: some cameras failed to open")
	}
	if len(handles) == 0 {
		return exitRuntime
	}
	defer mgr.CloseAll()

	if !enable {
		var failures int
		for _, h := range handles {
			if err := h.SetPtp(false); err != nil {
				log.WithField("camera", h.Identity().ID).WithError(err).Warn("fleetctl: failed to disable PTP")
				failures++
			}
		}
		if failures == len(handles) {
			return exitRuntime
		}
		return exitOK
	}

	cluster := make([]ptp.Camera, len(handles))
	for i, h := range handles {
		cluster[i] = h
	}
	controller := ptp.NewController(ptpConfigFrom(cfg), nil)
	result, err := controller.Run(ctx, cluster)
	if err != nil {
		log.WithError(err).Error("fleetctl: PTP synchronization failed")
		return exitRuntime
	}
	fmt.Printf("PTP result: state=%s master=%d slave=%d init=%d\n", result.State, result.MasterCount, result.SlaveCount, result.InitCount)
	if result.State != ptp.StateSynchronized {
		return exitRuntime
	}
	return exitOK
}

func cmdSetFeature(ctx context.Context, mgr *devicemgr.Manager, camerasCSV, feature, value, valueType string) int {
	if feature == "" {
		log.Error("fleetctl: --set-feature requires --feature")
		return exitUsage
	}
	if err := mgr.RefreshAvailable(ctx); err != nil {
		log.WithError(err).Error("fleetctl: refreshing available devices failed")
		return exitRuntime
	}

	ids := splitCSV(camerasCSV)
	if len(ids) == 0 {
		for _, d := range mgr.Available() {
			ids = append(ids, d.ID)
		}
	}
	if _, err := mgr.Open(ctx, ids, camera.DefaultConfig(), camera.AccessControl); err != nil {
		log.WithError(err).Warn("fleetctl: some cameras failed to open")
	}
	defer mgr.CloseAll()

	var err error
	if camerasCSV == "" {
		err = mgr.SetFeatureRawAll(feature, valueType, value)
	} else {
		for _, id := range ids {
			if writeErr := mgr.SetFeatureRaw(id, feature, valueType, value); writeErr != nil {
				log.WithField("camera", id).WithError(writeErr).Warn("fleetctl: feature write failed")
				err = writeErr
			}
		}
	}
	if err != nil {
		return exitRuntime
	}
	return exitOK
}

func cmdStart(ctx context.Context, mgr *devicemgr.Manager, ids []string, cfg config.SessionConfig, startDelay time.Duration, websocketAddr string) int {
	if err := mgr.RefreshAvailable(ctx); err != nil {
		log.WithError(err).Error("fleetctl: refreshing available devices failed")
		return exitRuntime
	}
	handles, err := mgr.Open(ctx, ids, cameraConfigFrom(cfg), camera.AccessControl)
	if err != nil {
		log.WithError(err).Warn("fleetctl: some cameras failed to open")
	}
	if len(handles) == 0 {
		log.Error("fleetctl: no cameras could be opened")
		return exitRuntime
	}
	defer mgr.CloseAll()

	session := lifecycle.NewSession(cfg.Acquisition.FPSLowerBound)
	runCtx, cancel := session.InstallSignalHandler(ctx)
	defer cancel()

	if startDelay > 0 {
		select {
		case <-time.After(startDelay):
		case <-runCtx.Done():
			return exitOK
		}
	}

	var historySink ptp.HistorySink
	var bandwidthWriter *persist.BandwidthWriter
	var frameWriter persist.FrameWriter

	if cfg.Storage.SaveFrames {
		bw, err := persist.NewBandwidthWriter(cfg.Storage.OutputDir, session.Session())
		if err != nil {
			log.WithError(err).Warn("fleetctl: failed to open bandwidth writer, continuing without persistence")
		} else {
			bandwidthWriter = bw
			defer bw.Close()
		}
		ow, err := persist.NewOffsetHistoryWriter(cfg.Storage.OutputDir, session.Session(), ids)
		if err != nil {
			log.WithError(err).Warn("fleetctl: failed to open offset history writer, continuing without persistence")
		} else {
			historySink = ow
			defer ow.Close()
		}
		frameWriter = persist.NewPNGFrameWriter(cfg.Storage.OutputDir, session.Session())
	}

	cluster := make([]ptp.Camera, len(handles))
	for i, h := range handles {
		cluster[i] = h
	}
	controller := ptp.NewController(ptpConfigFrom(cfg), historySink)
	ptpResult, err := controller.Run(runCtx, cluster)
	if err != nil {
		log.WithError(err).Warn("fleetctl: PTP synchronization did not complete; proceeding degraded")
	} else {
		log.WithField("state", ptpResult.State.String()).Info("fleetctl: PTP synchronization settled")
	}

	links := make([]bandwidth.CameraLink, len(handles))
	writers := make([]bandwidth.Writer, len(handles))
	for i, h := range handles {
		c := h.Config()
		links[i] = bandwidth.CameraLink{
			CameraID:       h.Identity().ID,
			LinkSpeedBps:   h.LinkSpeedBps(),
			Width:          c.Width,
			Height:         c.Height,
			PixelFormatTag: c.PixelFormat,
		}
		writers[i] = h
	}
	plan := bandwidth.Compute(links, cfg.Bandwidth.PacketSizeB, cfg.Bandwidth.BufferPercent)
	if err := bandwidth.Write(runCtx, writers, plan); err != nil {
		log.WithError(err).Warn("fleetctl: bandwidth write reported per-camera failures")
	}
	if bandwidthWriter != nil {
		for _, h := range handles {
			id := h.Identity().ID
			if d, ok := plan.DelayFor(id); ok {
				if err := bandwidthWriter.WriteDelay(id, d.PacketDelayNs, d.TransmissionDelayNs); err != nil {
					log.WithError(err).Warn("fleetctl: failed to persist bandwidth row")
				}
			}
		}
	}
	session.SetCeiling(plan.FPSCeiling)
	for _, h := range handles {
		if err := h.SetFrameRate(plan.FPSCeiling); err != nil {
			log.WithField("camera", h.Identity().ID).WithError(err).Warn("fleetctl: failed to apply FPS ceiling")
		}
	}

	var sink display.Sink = display.NopSink{}
	var wsSink *display.WebSocketSink
	if websocketAddr != "" {
		wsSink = display.NewWebSocketSink()
		sink = wsSink
		go serveWebSocket(runCtx, wsSink, websocketAddr)
	}

	opts := acquisition.DefaultOptions()
	opts.GrabTimeout = time.Duration(cfg.Acquisition.GrabTimeoutMs) * time.Millisecond
	opts.FailureThreshold = cfg.Acquisition.FailureThreshold
	opts.FPSWindowSize = cfg.PTP.PtpMaxCheck
	if frameWriter != nil {
		opts.Persist = frameWriter.WriteFrame
	}

	engine := acquisition.NewEngine(handles, session, sink, opts)
	if err := engine.Run(runCtx); err != nil {
		log.WithError(err).Error("fleetctl: acquisition engine exited with error")
		return exitRuntime
	}
	return exitOK
}

// serveWebSocket runs the composite-frame broadcaster and an HTTP server
// exposing it at /ws until ctx is canceled.
func serveWebSocket(ctx context.Context, sink *display.WebSocketSink, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sink.HandleWebSocket)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := sink.Run(ctx); err != nil {
			log.WithError(err).Warn("fleetctl: websocket sink exited")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("fleetctl: serving composite feed over websocket")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("fleetctl: websocket server exited with error")
	}
}

func cameraConfigFrom(cfg config.SessionConfig) camera.Config {
	return camera.Config{
		ExposureMicros: cfg.Camera.ExposureMicros,
		Gain:           cfg.Camera.Gain,
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		PixelFormat:    camera.PixelFormatTag(cfg.Camera.PixelFormat),
	}
}

func ptpConfigFrom(cfg config.SessionConfig) ptp.Config {
	return ptp.Config{
		PollInterval:            cfg.PTP.PollIntervalMs,
		MonitorPtpStatusTimeout: cfg.PTP.MonitorPtpStatusTimeoutMs,
		PtpOffsetThresholdNs:    cfg.PTP.PtpOffsetThresholdNs,
		PtpMaxCheck:             cfg.PTP.PtpMaxCheck,
		TimeWindowSize:          cfg.PTP.TimeWindowSize,
	}
}

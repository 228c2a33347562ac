package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/director"
	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/engine"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/logging"
	"github.com/ivlev/orbitreel/internal/metrics"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/renderer"
	"github.com/ivlev/orbitreel/internal/safety"
	"github.com/ivlev/orbitreel/internal/services"
	"github.com/ivlev/orbitreel/internal/source"
	"github.com/ivlev/orbitreel/internal/system"
	"github.com/ivlev/orbitreel/internal/trajectory"
	"github.com/ivlev/orbitreel/internal/video"
)

func main() {
	modePtr := flag.String("mode", "record", "Режим: plan, validate, record, inspect")
	boundaryPtr := flag.String("boundary", "", "YAML с границей участка (по умолчанию: самый свежий файл в input/boundaries/)")
	configPtr := flag.String("config", "", "Файл конфигурации YAML")
	outputPtr := flag.String("output", "", "Путь к плану (plan, inspect) или папка для видео (record)")
	durationPtr := flag.Float64("duration", 0, "Длительность облёта в секундах")
	fpsPtr := flag.Float64("fps", 0, "FPS")
	radiusPtr := flag.Float64("radius", 0, "Радиус облёта в метрах (по умолчанию: по размеру участка)")
	pitchPtr := flag.Float64("pitch", 0, "Наклон камеры в градусах, отрицательный смотрит вниз")
	easingPtr := flag.String("easing", "", "Сглаживание: linear, easeIn, easeOut, easeInOut")
	previewPtr := flag.Bool("preview", false, "Короткий облёт для предпросмотра (plan, validate)")
	titlePtr := flag.String("title", "", "Заголовок поверх видео")
	subtitlePtr := flag.String("subtitle", "", "Подпись внизу кадра")
	qrPtr := flag.String("qr", "", "Ссылка для QR-кода в углу")
	insetPtr := flag.String("inset", "", "План участка (PDF или изображение) для врезки")
	metricsAddrPtr := flag.String("metrics-addr", "", "Адрес для /metrics, например :9090")

	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}
	logger, closer := logging.New(cfg.Log)
	defer closer.Close()

	host := system.Host()
	logger.WithFields(logrus.Fields{
		"cpus":      host.LogicalCPUs,
		"mem_mb":    host.TotalMemMB,
		"avail_mb":  host.AvailMemMB,
		"mem_usage": fmt.Sprintf("%.0f%%", host.UsedPercent),
	}).Info("host")
	if n, err := system.RaiseFileLimit(4096); err != nil {
		logger.WithError(err).Warn("file limit unchanged")
	} else {
		logger.WithField("nofile", n).Debug("file limit")
	}

	if *modePtr == "inspect" {
		if err := runInspect(cfg, *outputPtr); err != nil {
			log.Fatalf("[-] Ошибка чтения плана: %v", err)
		}
		return
	}

	boundaryPath := *boundaryPtr
	if boundaryPath == "" {
		latest, err := source.FindLatestBoundary("input/boundaries")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите границу участка в input/boundaries/", err)
		}
		boundaryPath = latest
		fmt.Printf("[*] Выбран участок: %s\n", boundaryPath)
	}
	boundary, err := source.LoadBoundary(boundaryPath)
	if err != nil {
		log.Fatalf("[-] Ошибка границы участка: %v", err)
	}
	target, err := boundary.Target()
	if err != nil {
		log.Fatalf("[-] Ошибка границы участка: %v", err)
	}

	patch, err := orbitPatch(*durationPtr, *fpsPtr, *radiusPtr, *pitchPtr, *easingPtr)
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := *metricsAddrPtr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.WithError(err).Error("metrics server")
			}
		}()
	}

	countFix := func(f safety.Fix) {
		metrics.AutoFixTotal.WithLabelValues(f.Field).Inc()
	}

	switch *modePtr {
	case "plan":
		path, err := runPlan(cfg, target, patch, *previewPtr, *outputPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка плана: %v", err)
		}
		fmt.Printf("[+++] План записан: %s\n", path)

	case "validate":
		ctrl := orbit.New(nil, cfg.Limits, cfg.Orbit, orbit.WithLogger(logger),
			orbit.WithPreview(cfg.Preview.DurationSec, cfg.Preview.ArcDeg))
		tl, err := ctrl.Plan(target, patch, *previewPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка проверки: %v", err)
		}
		printConfig(tl.Config)
		if len(tl.Messages) == 0 {
			fmt.Println("[+] Конфигурация безопасна, исправлений нет")
			return
		}
		for _, m := range tl.Messages {
			fmt.Printf("[*] %s\n", m)
		}

	case "record":
		overlay, err := buildOverlay(*titlePtr, *subtitlePtr, *qrPtr, *insetPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка оформления: %v", err)
		}
		if *outputPtr != "" {
			cfg.Storage.Local.Directory = *outputPtr
		}
		res, err := runRecord(ctx, cfg, logger, boundary, target, engine.Request{
			Target:    target,
			Orbit:     patch,
			Overlay:   overlay,
			SourceRef: boundary.Name,
		}, countFix)
		if err != nil {
			log.Fatalf("[-] Ошибка записи: %v", err)
		}
		fmt.Printf("[+++] Успех! Видео %d: %s (%s, %.1fs)\n",
			res.VideoID, res.FileID, res.Format, res.Duration.Seconds())

	default:
		log.Fatalf("[-] Неизвестный режим %q", *modePtr)
	}
}

// orbitPatch keeps only the flags given on the command line, so the
// configuration file supplies the rest.
func orbitPatch(duration, fps, radius, pitch float64, easing string) (config.OrbitPatch, error) {
	var patch config.OrbitPatch
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "duration":
			patch.DurationSec = config.Float(duration)
		case "fps":
			patch.FPS = config.Float(fps)
		case "radius":
			patch.RadiusMeters = config.Float(radius)
		case "pitch":
			patch.PitchDeg = config.Float(pitch)
		case "easing":
			var e config.Easing
			if e, err = trajectory.ParseEasing(easing); err == nil {
				patch.Easing = config.EasingPtr(e)
			}
		}
	})
	return patch, err
}

func runPlan(cfg *config.Config, target trajectory.Target, patch config.OrbitPatch, preview bool, output string) (string, error) {
	ctrl := orbit.New(nil, cfg.Limits, cfg.Orbit, orbit.WithPreview(cfg.Preview.DurationSec, cfg.Preview.ArcDeg))
	tl, err := ctrl.Plan(target, patch, preview)
	if err != nil {
		return "", err
	}
	for _, m := range tl.Messages {
		fmt.Printf("[*] Исправлено: %s\n", m)
	}
	fmt.Printf("[*] Кадров: %d\n", len(tl.Frames))

	path := output
	if path == "" {
		path = director.GenerateTimelinePath(cfg.Output.PlanDirectory, time.Now())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	return path, director.WriteTimeline(tl, path)
}

// runInspect prints a plan file; without a path the newest plan is used.
func runInspect(cfg *config.Config, path string) error {
	if path == "" {
		latest, err := director.FindLatestTimeline(cfg.Output.PlanDirectory)
		if err != nil {
			return err
		}
		path = latest
		fmt.Printf("[*] Выбран план: %s\n", path)
	}
	tl, err := director.ReadTimeline(path)
	if err != nil {
		return err
	}
	printConfig(tl.Config)
	for _, m := range tl.Messages {
		fmt.Printf("[*] Исправлено: %s\n", m)
	}
	if len(tl.Frames) == 0 {
		return errors.New("plan has no frames")
	}
	last := tl.Frames[len(tl.Frames)-1]
	for _, ms := range []float64{0, last.TimeMs / 2, last.TimeMs} {
		f, _ := director.InterpolatedFrame(tl.Frames, ms)
		fmt.Printf("[*] %6.0fms: курс %.1f°, камера %.6f, %.6f на %.0fм\n",
			ms, trajectory.RadToDeg(f.HeadingRad), f.Longitude, f.Latitude, f.AltitudeM)
	}
	fmt.Printf("[+] Кадров: %d\n", len(tl.Frames))
	return nil
}

func printConfig(c config.OrbitConfig) {
	fmt.Printf("[*] Длительность: %.1fs, FPS: %.0f, радиус: %.0fм, наклон: %.1f°, курс: %.0f°→%.0f°, сглаживание: %s\n",
		c.DurationSec, c.FPS, c.RadiusMeters, c.PitchDeg, c.HeadingStartDeg, c.HeadingEndDeg, c.Easing)
}

func buildOverlay(title, subtitle, qr, inset string) (effects.OverlayConfig, error) {
	overlay := effects.OverlayConfig{SafeArea: effects.DefaultSafeArea}
	if title != "" {
		overlay.Top = &effects.TextBlock{
			Text:       title,
			Font:       effects.FontBold,
			Color:      "#FFFFFF",
			Background: "#00000080",
			Align:      effects.AlignCenter,
		}
	}
	if subtitle != "" {
		overlay.Bottom = &effects.TextBlock{
			Text:       subtitle,
			Font:       effects.FontRegular,
			Color:      "#FFFFFF",
			Background: "#00000080",
			Align:      effects.AlignCenter,
		}
	}
	if qr != "" {
		overlay.Badge = &effects.QRBadge{Content: qr, Corner: effects.CornerBottomRight}
	}
	if inset != "" {
		img, err := source.LoadInset(inset, 0, 0, true)
		if err != nil {
			return overlay, err
		}
		overlay.Inset = &effects.Inset{
			Image:        img,
			Path:         inset,
			WidthPercent: 25,
			Corner:       effects.CornerTopRight,
		}
	}
	return overlay, nil
}

func buildServices(cfg *config.Config, logger logrus.FieldLogger) (engine.QuotaService, engine.MetadataService, engine.UploadService, error) {
	var quota engine.QuotaService = services.NewLocalQuota(time.Now().Unix(), 0)
	var meta engine.MetadataService = services.NewLogMetadata(logger)

	var api *services.APIClient
	if cfg.API.BaseURL != "" {
		var err error
		if api, err = services.NewAPIClient(cfg.API, logger); err != nil {
			return nil, nil, nil, err
		}
		quota, meta = api, api
	}

	switch cfg.Storage.Backend {
	case "api":
		if api == nil {
			return nil, nil, nil, errors.New("storage backend api needs api.base_url")
		}
		return quota, meta, api, nil
	case "s3":
		up, err := services.NewS3Uploader(cfg.Storage.S3, logger)
		return quota, meta, up, err
	case "dropbox":
		up, err := services.NewDropboxUploader(cfg.Storage.Dropbox, logger)
		return quota, meta, up, err
	default:
		return quota, meta, services.NewFileUploader(cfg.Storage.Local.Directory, logger), nil
	}
}

func runRecord(ctx context.Context, cfg *config.Config, logger *logrus.Logger, boundary *source.Boundary, target trajectory.Target, req engine.Request, onFix safety.Observer) (*engine.Result, error) {
	orbitCfg, err := config.Merge(cfg.Orbit, req.Orbit)
	if err != nil {
		return nil, err
	}
	ticker := frameloop.NewTicker(orbitCfg.FPS)
	defer ticker.Close()

	pool := system.NewFramePool()
	scene := renderer.NewWireframe(ticker, target, boundary.Points,
		renderer.WithSize(cfg.Render.Width, cfg.Render.Height),
		renderer.WithFieldOfView(cfg.Render.FieldOfViewDeg),
		renderer.WithGroundElevation(cfg.Render.GroundElevation),
		renderer.WithFramePool(pool),
		renderer.WithLogger(logger),
	)
	defer scene.Close()

	ctrl := orbit.New(ticker, cfg.Limits, cfg.Orbit,
		orbit.WithLogger(logger),
		orbit.WithPreview(cfg.Preview.DurationSec, cfg.Preview.ArcDeg),
		orbit.WithFixObserver(onFix),
	)
	ctrl.Init(scene)
	defer ctrl.Dispose()

	comp, err := effects.NewCompositor()
	if err != nil {
		return nil, err
	}
	rec := video.NewFFmpegRecorder(video.WithLogger(logger))
	capt := capture.NewCompositingEngine(rec, ticker, comp,
		capture.WithLogger(logger),
		capture.WithFramePool(pool),
	)

	logger.WithFields(logrus.Fields{
		"frame_period": ticker.Period(),
		"compositing":  capt.Compositing(),
		"size":         scene.Size(),
	}).Info("recorder ready")

	quota, meta, upload, err := buildServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	flow := engine.NewFlow(engine.Deps{
		Scene:     scene,
		Orbit:     ctrl,
		Capture:   capt,
		Scheduler: ticker,
		Quota:     quota,
		Metadata:  meta,
		Upload:    upload,
	},
		engine.WithLogger(logger),
		engine.WithTimerInterval(cfg.Flow.TimerInterval),
		engine.WithCaptureSettings(cfg.Capture),
	)
	defer flow.Reset()

	if cfg.MQTT.Enabled {
		pub, err := services.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			logger.WithError(err).Warn("state feed disabled")
		} else {
			defer pub.Close()
			defer flow.Subscribe(pub.Observe)()
		}
	}

	var mu sync.Mutex
	last := engine.StateIdle
	defer flow.Subscribe(func(s engine.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.State != last {
			last = s.State
			fmt.Printf("[*] %s\n", s.State)
		}
	})()

	if err := flow.Start(ctx, req); err != nil {
		return nil, err
	}
	fmt.Printf("[*] Запись %.0fs, Ctrl+C чтобы остановить раньше\n", orbitCfg.DurationSec)

	snap, err := flow.Wait(ctx)
	if ctx.Err() != nil {
		fmt.Println("[*] Остановка по сигналу")
		if err := flow.Stop(context.Background()); err != nil && !errors.Is(err, engine.ErrNotRecording) {
			return nil, err
		}
		snap, err = flow.Wait(context.Background())
	}
	if err != nil {
		return nil, err
	}
	if snap.Result == nil {
		return nil, fmt.Errorf("run ended in %s: %s", snap.State, snap.Message)
	}
	return snap.Result, nil
}

// Command test-publish pushes synthetic test-pattern frames through a
// stream-publish graph, with an interactive control loop on stdin for
// attaching and detaching the RTMP and local-display branches at runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	streampublish "github.com/e7canasta/orion-care-sensor/modules/stream-publish"
)

const version = "v0.1.0"

func main() {
	rtmpURL := flag.String("url", "", "RTMP destination URL (required)")
	width := flag.Int("width", 1024, "Frame width in pixels")
	height := flag.Int("height", 1024, "Frame height in pixels")
	fps := flag.Int("fps", 30, "Frame rate (1-60)")
	bitrate := flag.Int("bitrate", 3500, "Encoder bitrate in kbit/s")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports")
	autostart := flag.Bool("autostart", true, "Attach both branches on startup")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("test-publish %s\n", version)
		os.Exit(0)
	}

	if *rtmpURL == "" {
		fmt.Fprintf(os.Stderr, "Error: --url flag is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  test-publish --url rtmp://ome.example.org/app/my-stream\n")
		fmt.Fprintf(os.Stderr, "  test-publish --url rtmp://ome.example.org/app/my-stream --fps 15 --width 1280 --height 720\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	pub, err := streampublish.NewRTMPPublisher(streampublish.Config{
		Width:       *width,
		Height:      *height,
		RTMPURL:     *rtmpURL,
		FrameRate:   *fps,
		BitrateKbps: *bitrate,
	})
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("Signal received, shutting down", "signal", sig)
		cancel()
	}()

	if *autostart {
		if err := pub.StartStream(); err != nil {
			slog.Error("Failed to start stream", "error", err)
		}
	}

	// Runtime diagnostics end the run when the graph is terminally broken.
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- pub.Monitor(ctx)
	}()

	// Interactive branch control on stdin.
	go func() {
		if err := streampublish.RunControlLoop(os.Stdin, os.Stdout, pub); err != nil {
			slog.Error("Control loop failed", "error", err)
		}
		cancel()
	}()

	fmt.Printf("test-publish %s streaming %dx%d@%dfps to %s\n", version, *width, *height, *fps, *rtmpURL)
	fmt.Println("Commands: start_stream stop_stream start_rtmp_stream stop_rtmp_stream start_local_stream stop_local_stream debug quit")

	runProducer(ctx, pub, *width, *height, *fps, time.Duration(*statsInterval)*time.Second, monitorDone)
}

// runProducer generates test-pattern frames at the target rate until the
// context is cancelled or the monitor reports a terminal event.
func runProducer(
	ctx context.Context,
	pub *streampublish.RTMPPublisher,
	width, height, fps int,
	statsInterval time.Duration,
	monitorDone <-chan error,
) {
	frameTicker := time.NewTicker(time.Second / time.Duration(fps))
	defer frameTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	retryCfg := streampublish.DefaultRetryConfig()
	windowStart := time.Now()
	var submitTimes []time.Time
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			printFinalStats(pub)
			return

		case err := <-monitorDone:
			if err != nil {
				slog.Error("Pipeline terminated", "error", err)
			}
			printFinalStats(pub)
			return

		case <-frameTicker.C:
			frame := testPattern(width, height, seq)
			seq++

			err := streampublish.SendRawWhenReady(ctx, pub, frame, retryCfg)
			switch {
			case err == nil:
				submitTimes = append(submitTimes, time.Now())
			case errors.Is(err, streampublish.ErrNotReady):
				slog.Debug("Frame dropped, graph not ready", "seq", seq)
			case errors.Is(err, context.Canceled):
				// shutting down
			default:
				slog.Warn("Frame submission failed", "seq", seq, "error", err)
			}

		case <-statsTicker.C:
			stats := pub.Stats()
			rate := streampublish.CalculateRateStats(submitTimes, time.Since(windowStart))
			slog.Info("Publisher stats",
				"submitted", stats.FramesSubmitted,
				"rejected", stats.FramesRejected,
				"push_failures", stats.PushFailures,
				"network", stats.NetworkAttached,
				"display", stats.DisplayAttached,
				"uptime", stats.Uptime.Round(time.Second),
				"rate_mean", fmt.Sprintf("%.2f", rate.RateMean),
				"rate_stddev", fmt.Sprintf("%.2f", rate.RateStdDev),
				"steady", rate.IsSteady,
			)
			windowStart = time.Now()
			submitTimes = submitTimes[:0]
		}
	}
}

// testPattern renders a moving gradient in the graph's native RGB layout.
// The diagonal sweep makes dropped or frozen frames obvious on the display
// branch.
func testPattern(width, height int, seq uint64) []byte {
	data := make([]byte, width*height*3)
	shift := int(seq % 256)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			data[i+0] = byte((x + shift) % 256)
			data[i+1] = byte((y + shift) % 256)
			data[i+2] = byte((x + y + shift) % 256)
		}
	}
	return data
}

func printFinalStats(pub *streampublish.RTMPPublisher) {
	stats := pub.Stats()
	slog.Info("Final stats",
		"submitted", stats.FramesSubmitted,
		"rejected", stats.FramesRejected,
		"push_failures", stats.PushFailures,
		"errors_network", stats.ErrorsNetwork,
		"errors_codec", stats.ErrorsCodec,
		"errors_unknown", stats.ErrorsUnknown,
		"uptime", stats.Uptime.Round(time.Second),
	)
}

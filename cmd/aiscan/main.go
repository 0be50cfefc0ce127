package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/seglab/aiscan/pkg/acquire"
	"github.com/seglab/aiscan/pkg/config"
	"github.com/seglab/aiscan/pkg/daq"
	"github.com/seglab/aiscan/pkg/export"
)

func main() {
	var (
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		portFlag     = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		simFlag      = flag.Bool("sim", false, "Use simulated device instead of serial port")
		rateFlag     = flag.Float64("rate", 0, "Sample rate override (Hz)")
		durFlag      = flag.Float64("dur", 0, "Scan buffer duration override (seconds)")
		channelsFlag = flag.Int("channels", 0, "Channel count override")
		targetFlag   = flag.Uint64("target", 0, "Total samples to acquire (0 = one buffer's worth)")
		pointsFlag   = flag.Int("points", 1, "Number of back-to-back acquisitions, one CSV file each")
		outFlag      = flag.String("out", "", "Output directory override")
		decimateFlag = flag.Int("decimate", 0, "Keep every Nth row when exporting (overrides config)")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply command line overrides
	if *portFlag != "" {
		cfg.Device.Port = *portFlag
		cfg.Device.Autodetect = false
	}
	if *rateFlag > 0 {
		cfg.Scan.SampleRateHz = *rateFlag
	}
	if *durFlag > 0 {
		cfg.Scan.DurationSeconds = *durFlag
	}
	if *channelsFlag > 0 {
		cfg.Scan.Channels = *channelsFlag
	}
	if *targetFlag > 0 {
		cfg.Acquire.TargetSamples = *targetFlag
	}
	if *outFlag != "" {
		cfg.Export.Dir = *outFlag
	}
	if *decimateFlag > 0 {
		cfg.Export.Decimate = *decimateFlag
	}

	if err := run(cfg, *simFlag, *pointsFlag); err != nil {
		log.Fatalf("aiscan: %v", err)
	}
}

func run(cfg *config.Config, sim bool, points int) error {
	// Interrupt stops the acquisition loop; partial data is still exported.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ctrl, err := newController(cfg, sim)
	if err != nil {
		return err
	}
	if err := ctrl.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ctrl.Close()

	session, err := daq.NewSession(cfg.Scan.SampleRateHz, cfg.Scan.DurationSeconds, cfg.Scan.Channels)
	if err != nil {
		return fmt.Errorf("failed to set up scan session: %w", err)
	}

	writer := export.Writer{
		Dir:        cfg.Export.Dir,
		SampleRate: session.SampleRate,
		Decimate:   cfg.Export.Decimate,
	}

	if points < 1 {
		points = 1
	}
	stdin := bufio.NewReader(os.Stdin)

	for p := 0; p < points; p++ {
		if points > 1 {
			fmt.Printf("Acquiring data for position %d of %d\n", p+1, points)
			fmt.Print("Press Enter to start acquisition...")
			if _, err := stdin.ReadString('\n'); err != nil {
				return fmt.Errorf("failed to read prompt: %w", err)
			}
		}

		if err := acquireAndExport(ctx, ctrl, session, cfg, writer); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	return nil
}

// acquireAndExport runs one acquisition and writes its CSV. A fault still
// exports the data collected up to the fault before being reported.
func acquireAndExport(ctx context.Context, ctrl daq.Controller, session daq.Session, cfg *config.Config, writer export.Writer) error {
	loop, err := acquire.NewLoop(ctrl, session, acquire.Options{
		PollInterval:  cfg.Acquire.PollInterval,
		StartTimeout:  cfg.Acquire.StartTimeout,
		TargetSamples: cfg.Acquire.TargetSamples,
		OnChunk: func(uint64) {
			fmt.Print(".")
		},
	})
	if err != nil {
		return err
	}

	series, runErr := loop.Run(ctx)
	fmt.Println()
	if runErr != nil {
		log.Printf("Acquisition fault: %v", runErr)
	}

	path, err := writer.Write(series)
	switch {
	case errors.Is(err, export.ErrNoData):
		log.Printf("No data available to save.")
	case err != nil:
		return fmt.Errorf("failed to export data: %w", err)
	default:
		log.Printf("Data saved to %s successfully.", path)
	}

	return runErr
}

func newController(cfg *config.Config, sim bool) (daq.Controller, error) {
	if sim {
		log.Printf("Using simulated device")
		return daq.NewSim(&cfg.Sim), nil
	}

	port := cfg.Device.Port
	if cfg.Device.Autodetect {
		found, err := daq.Detect(cfg.Device.Match)
		if err != nil {
			return nil, err
		}
		log.Printf("Found %s at %s", cfg.Device.Match, found)
		port = found
	}

	return daq.NewSerial(port, cfg.Device.BaudRate), nil
}

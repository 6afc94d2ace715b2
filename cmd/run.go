package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/blinkauth/internal/autherr"
	"github.com/andresmejia3/blinkauth/internal/config"
	"github.com/andresmejia3/blinkauth/internal/detector"
	"github.com/andresmejia3/blinkauth/internal/frames"
	"github.com/andresmejia3/blinkauth/internal/imaging"
	"github.com/andresmejia3/blinkauth/internal/liveness"
	"github.com/andresmejia3/blinkauth/internal/logger"
	"github.com/andresmejia3/blinkauth/internal/result"
	"github.com/andresmejia3/blinkauth/internal/session"
	"github.com/andresmejia3/blinkauth/internal/upload"
	"github.com/andresmejia3/blinkauth/internal/utils"
	"github.com/andresmejia3/blinkauth/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Device          string
	ExitOnMatch     bool
	CreateContainer bool
}

var runOpts RunOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera and authenticate the first live blink",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("create-container") {
			cfg.Storage.CreateContainer = runOpts.CreateContainer
		}
		return runAuth(cmd.Context(), cfg, runOpts, os.Stderr)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Device, "device", "d", "", "Camera device (overrides camera.device)")
	runCmd.Flags().BoolVar(&runOpts.ExitOnMatch, "exit-on-match", true, "Exit once a matched employee has been redirected")
	runCmd.Flags().BoolVar(&runOpts.CreateContainer, "create-container", false, "Create the storage container if it does not exist")

	rootCmd.AddCommand(runCmd)
}

// runAuth wires the session: storage, verifier, result sink, camera and
// landmark worker. It blocks until a match is handed over, ctx is done, or
// a terminal error occurs.
func runAuth(ctx context.Context, cfg *config.Config, opts RunOptions, out io.Writer) error {
	// 1. Configuration & logging
	if opts.Device != "" {
		cfg.Camera.Device = opts.Device
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := result.NewConsole(out)
	defer console.Finish()

	// 2. Storage & verification
	store, err := upload.NewAzureStore(cfg.AzureConfig(), log)
	if err != nil {
		return err
	}
	if cfg.Storage.CreateContainer {
		if err := store.EnsureContainer(ctx); err != nil {
			return fmt.Errorf("create container: %w", err)
		}
	}
	pipeline := upload.NewPipeline(store, upload.NewHTTPVerifier(cfg.Verifier.URL, nil), upload.Options{
		Namespace:     cfg.Storage.Namespace,
		VerifyTimeout: cfg.Verifier.Timeout.D(),
		Logger:        log,
	})

	// 3. Result sink. A completed redirect ends the run.
	redirector := result.NewFormRedirector(cfg.Redirect.URL, nil)
	sink := result.NewSink(console, redirector.Redirect, result.Options{
		Delay:  cfg.Redirect.Delay.D(),
		Logger: log,
		OnRedirect: func(employeeID string, err error) {
			if err == nil && opts.ExitOnMatch {
				cancel()
			}
		},
	})

	// 4. Camera & landmark worker
	src, err := frames.OpenFFmpeg(ctx, frames.Options{
		Capture: cfg.CaptureArgs(),
		LockDir: cfg.Camera.LockDir,
		Logger:  log,
	})
	if err != nil {
		utils.ShowError("Failed to open the camera", err, nil)
		return reportedError{err}
	}
	det := detector.NewWorkerDetector(cfg.WorkerConfig(), log)
	defer det.Close()

	sess, err := session.New(session.Options{
		Source:     src,
		Detector:   det,
		Loader:     det,
		Analyzer:   liveness.NewFrameDiff(cfg.LivenessConfig()),
		Compressor: imaging.NewCompressor(cfg.CompressionProfile(), cfg.Compression.Quality),
		Uploader:   pipeline,
		Sink:       sink,
		Observer:   console,
		Interval:   cfg.Liveness.TickInterval.D(),
		Logger:     log,
	})
	if err != nil {
		src.Close()
		return err
	}
	fmt.Fprintf(out, "🎥 Session %s on %s (%dx%d, %s profile)\n",
		sess.ID(), cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.Profile)

	// 5. Run until a match, Ctrl+C, or a terminal error
	runErr := sess.Run(ctx)

	sess.Close()
	sess.Wait()
	sink.Stop()
	sink.Wait()

	if runErr != nil {
		log.Error("session ended", zap.Error(runErr))
		reportTerminal(runErr)
		return reportedError{runErr}
	}
	return nil
}

// reportTerminal prints the error box for an error that ended the session,
// with the worker's logs when the models failed to load.
func reportTerminal(err error) {
	var start *worker.StartError
	switch {
	case errors.As(err, &start):
		utils.ShowError(autherr.Message(err), err, start.Cmd)
	default:
		utils.ShowError(autherr.Message(err), err, nil)
	}
}

package config

import (
	"time"

	"github.com/andresmejia3/blinkauth/internal/imaging"
	"github.com/andresmejia3/blinkauth/internal/upload"
)

// Default returns a configuration with all optional fields populated. The
// storage account and the two endpoints have no usable default.
func Default() Config {
	return Config{
		Profile: imaging.Desktop.Name,
		Camera: Camera{
			Device:     "/dev/video0",
			Format:     "v4l2",
			FacingMode: "user",
			FrameRate:  30,
		},
		Worker: Worker{
			Command: "python3",
			Args:    []string{"-u", "python/landmarks.py"},
		},
		Liveness: Liveness{
			EyeOpennessThreshold:    0.2,
			ConfirmFrames:           5,
			DiffThreshold:           30,
			Cooldown:                Duration(time.Second),
			EyeRegion:               Region{X: 0.3, Y: 0.3, W: 0.4, H: 0.2},
			RequireFaceConfirmation: true,
			TickInterval:            Duration(16 * time.Millisecond),
		},
		Compression: Compression{
			Quality: imaging.DefaultQuality,
		},
		Storage: Storage{
			Namespace:  upload.DefaultNamespace,
			MaxRetries: upload.DefaultMaxRetries,
			TryTimeout: Duration(upload.DefaultTryTimeout),
		},
		Verifier: Verifier{
			Timeout: Duration(upload.DefaultVerifyTimeout),
		},
		Redirect: Redirect{
			Delay: Duration(time.Second),
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

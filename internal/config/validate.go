package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their config file names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describe(verrs)
		}
		return err
	}
	if err := c.validateEyeRegion(); err != nil {
		return err
	}
	return c.validateCamera()
}

func (c *Config) validateEyeRegion() error {
	r := c.Liveness.EyeRegion
	if r.X+r.W > 1 || r.Y+r.H > 1 {
		return errors.New("liveness.eye_region must lie inside the frame (x+w <= 1, y+h <= 1)")
	}
	return nil
}

func (c *Config) validateCamera() error {
	if c.Camera.Width == 0 || c.Camera.Height == 0 {
		return errors.New("camera.width and camera.height must be set (or pick a profile)")
	}
	if c.Camera.Width%2 != 0 || c.Camera.Height%2 != 0 {
		return fmt.Errorf("camera size %dx%d must be even", c.Camera.Width, c.Camera.Height)
	}
	return nil
}

// describe turns validator errors into one message naming the config keys.
func describe(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", configKey(fe.Namespace()), fieldRule(fe)))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// configKey maps "Config.storage.account_name" to "storage.account_name".
func configKey(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

package node

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML file on top of DefaultOptions.
func LoadConfig(path string) (Options, error) {
	options := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &options); err != nil {
		return Options{}, fmt.Errorf("parse config: %w", err)
	}
	if err := options.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid config: %w", err)
	}
	return options, nil
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error

	short, host, full := strings.Cut(o.Name, "@")
	switch {
	case o.Name == "":
		errs = append(errs, fmt.Errorf("name is required"))
	case short == "":
		errs = append(errs, fmt.Errorf("name %q has an empty short part", o.Name))
	case full && (host == "" || strings.Contains(host, "@")):
		errs = append(errs, fmt.Errorf("name %q has an invalid host part", o.Name))
	}
	if len(o.Name) > 255 {
		errs = append(errs, fmt.Errorf("name is longer than 255 bytes"))
	}

	if !o.DisableEPMD && o.EPMDHost == "" {
		errs = append(errs, fmt.Errorf("epmd_host is required"))
	}
	for name, port := range o.StaticRoutes {
		if !strings.Contains(name, "@") {
			errs = append(errs, fmt.Errorf("static route %q must be a full node name", name))
		}
		if port == 0 {
			errs = append(errs, fmt.Errorf("static route %q has no port", name))
		}
	}

	if o.HandshakeVersion == 0 {
		errs = append(errs, fmt.Errorf("handshake_version must be positive"))
	}
	if o.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("accept_rate must not be negative"))
	}
	if o.AcceptBurst < 0 {
		errs = append(errs, fmt.Errorf("accept_burst must not be negative"))
	}
	if o.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick_interval must not be negative"))
	}

	return errors.Join(errs...)
}

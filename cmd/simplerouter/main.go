// Simplerouter - IPv4 router control plane for a P4 forwarding device
//
// The controller binds to one device reached over Redis, installs the static
// interfaces and routes from its config file, and resolves next hops with
// ARP on packets the device punts to it.
//
// Examples:
//
//	simplerouter -c router.yaml run                 # run the controller
//	simplerouter -c router.yaml counter ingress 3   # read a device counter
//	simplerouter -c router.yaml push-config p4.json # replace the pipeline
//	simplerouter -c router.yaml show-config         # print the parsed config
//	simplerouter -c router.yaml state               # tables of a running controller
//	simplerouter -c router.yaml health              # device and binding checks
//	simplerouter -c router.yaml audit --last 24h    # list recorded changes
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/config"
	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/router"
	"github.com/newtron-network/simplerouter/pkg/util"
	"github.com/newtron-network/simplerouter/pkg/version"
)

var (
	configPath string
	verbose    bool
	jsonLog    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "simplerouter",
	Short:             "IPv4 router control plane",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonLog {
			util.SetJSONFormat()
		}
		if verbose {
			return util.SetLogLevel("debug")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "simplerouter.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Log in JSON format")

	rootCmd.AddCommand(runCmd, counterCmd, pushConfigCmd, showConfigCmd, auditCmd, healthCmd, stateCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

// loadConfig reads --config and applies its log level unless -v was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !verbose {
		if err := util.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}
	return cfg, nil
}

func deviceOptions(cfg *config.Config) device.Options {
	opts := device.Options{Name: cfg.Device.Name, Addr: cfg.Device.RedisAddr}
	if s := cfg.Device.SSH; s != nil {
		opts.SSH = &device.SSHOptions{
			Host:     s.Host,
			Port:     s.Port,
			User:     s.User,
			Password: s.Password,
			Remote:   s.Remote,
		}
	}
	return opts
}

func holder(cfg *config.Config) string {
	if cfg.Device.Holder != "" {
		return cfg.Device.Holder
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return version.Holder(host)
}

// holderProbe reports who owns a device binding.
type holderProbe interface {
	BoundHolder(ctx context.Context) (string, error)
}

// checkBinding refuses a disruptive change to a device another controller is
// bound to. force downgrades the refusal to a warning.
func checkBinding(ctx context.Context, dev holderProbe, name, self string, force bool) error {
	owner, err := dev.BoundHolder(ctx)
	if err != nil {
		return fmt.Errorf("reading binding of %s: %w", name, err)
	}
	if owner == "" || owner == self {
		return nil
	}
	if !force {
		return util.NewBindingError(name, fmt.Errorf("%w: held by %s", util.ErrDeviceLocked, owner))
	}
	util.WithDevice(name).Warnf("Device is bound to %s, proceeding anyway", owner)
	return nil
}

// withEngine runs fn against a short-lived engine on the configured device,
// without binding to it. With exclusive set, fn only runs when no other
// holder is bound, unless force is also set.
func withEngine(ctx context.Context, exclusive, force bool, fn func(ctx context.Context, r *router.Router) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dev, err := device.Dial(ctx, deviceOptions(cfg))
	if err != nil {
		return err
	}
	defer dev.Close()

	self := holder(cfg)
	if exclusive {
		if err := checkBinding(ctx, dev, cfg.Device.Name, self, force); err != nil {
			return err
		}
	}

	r := router.New(dev, router.Options{Holder: self})
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	err = fn(ctx, r)
	stop()
	<-done
	return err
}

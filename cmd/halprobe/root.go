package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/device"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := newViper()
	var (
		cfgFile string
		cfg     *probeConfig
	)

	root := &cobra.Command{
		Use:   "halprobe",
		Short: "Probe halcore device backends",
		Long: `halprobe lists the registered device backends, prints the adapter a
context opens, and runs a staging round trip through a device-local buffer.

Settings come from flags, HALPROBE_* environment variables (a .env file in
the working directory is loaded first) and an optional halprobe.yaml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = loadConfig(v, cfgFile); err != nil {
				return err
			}
			cfg.installLogger()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./halprobe.yaml)")
	flags.String("backend", "", "device backend (default: best available)")
	flags.String("api", "1.3", "API version: 1.0, 1.1, 1.2 or 1.3")
	flags.Bool("debug", false, "enable validation and per-command logging")
	flags.BoolP("verbose", "v", false, "log to stderr")
	for _, name := range []string{"backend", "api", "debug", "verbose"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newBackendsCmd(),
		newInfoCmd(func() *probeConfig { return cfg }),
		newRoundTripCmd(v, func() *probeConfig { return cfg }),
	)
	return root
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered device backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def := ""
			if b, err := device.Default(); err == nil {
				def = b.Name()
			}
			out := cmd.OutOrStdout()
			for _, name := range device.Available() {
				mark := " "
				if name == def {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\n", mark, name)
			}
			return nil
		},
	}
}

func newInfoCmd(cfg func() *probeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Open a context and describe its device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContext(cfg(), func(c *halcore.Context) error {
				return printInfo(cmd.OutOrStdout(), c)
			})
		},
	}
}

func newRoundTripCmd(v *viper.Viper, cfg func() *probeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Upload data to a device-local buffer and read it back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			return withContext(c, func(*halcore.Context) error {
				n, err := roundTrip(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "round trip ok: %d elements (%d bytes)\n", n, n*4)
				return nil
			})
		},
	}
	cmd.Flags().Uint64("count", 1024, "number of uint32 elements")
	cmd.Flags().Duration("timeout", 5*time.Second, "wait timeout for the readback")
	_ = v.BindPFlag("count", cmd.Flags().Lookup("count"))
	_ = v.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
	return cmd
}

// withContext initializes the global context for the duration of fn.
func withContext(cfg *probeConfig, fn func(*halcore.Context) error) (err error) {
	hc, err := cfg.contextConfig()
	if err != nil {
		return err
	}
	if err := halcore.Init(hc); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, halcore.Destroy())
	}()
	return halcore.Shared(fn)
}

func printInfo(w io.Writer, c *halcore.Context) error {
	info := c.Info()
	cfg := c.Config()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "backend:\t%s\n", c.Backend())
	fmt.Fprintf(tw, "adapter:\t%s\n", info.Name)
	fmt.Fprintf(tw, "type:\t%s\n", info.Type)
	fmt.Fprintf(tw, "shared:\t%v\n", info.Shared)
	fmt.Fprintf(tw, "api:\t%s\n", cfg.APIVersion)
	fmt.Fprintf(tw, "debug:\t%v\n", c.Debug())
	return tw.Flush()
}

// roundTrip uploads 0..count-1 into a device-local buffer and reads it
// back through a host-mapped buffer, returning the element count.
func roundTrip(cfg *probeConfig) (uint64, error) {
	data := make([]uint32, cfg.Count)
	for i := range data {
		data[i] = uint32(i)
	}

	local, err := halcore.NewBufferBuilder[uint32]().
		Data(data).
		Usage(gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage).
		Memory(halcore.MemoryPreferDevice).
		Label("probe_local").
		Build()
	if err != nil {
		return 0, err
	}
	defer local.Destroy()

	readback, err := halcore.NewBufferBuilder[uint32]().
		Count(cfg.Count).
		Staging().
		Label("probe_readback").
		Build()
	if err != nil {
		return 0, err
	}
	defer readback.Destroy()

	cb, err := halcore.NewCommandBuffer(halcore.SingleUse)
	if err != nil {
		return 0, err
	}
	defer cb.Destroy()
	cb.SetLabel("probe_readback")

	rec, err := cb.StartRecording()
	if err != nil {
		return 0, err
	}
	if err := local.RecordCopy(rec, readback); err != nil {
		_, _ = rec.Discard()
		return 0, err
	}
	if _, err := rec.Submit(); err != nil {
		return 0, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = halcore.InfiniteTimeout
	}
	if err := cb.WaitWithTimeout(timeout); err != nil {
		return 0, err
	}

	view, _ := readback.Mapped()
	for i, want := range data {
		if got := view.At(i); got != want {
			return 0, fmt.Errorf("mismatch at element %d: got %d, want %d", i, got, want)
		}
	}
	return cfg.Count, nil
}

// Command taskbench drives the task scheduler with a synthetic workload of
// dependency chains and parallel loops, and optionally serves its metrics.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "taskbench",
		Short: "Run a synthetic workload through the task scheduler",
		Long: `taskbench starts a worker pool, has several producers build dependency
chains concurrently, runs a batched parallel loop, and reports how the
scheduler handled it.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			res, err := run(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "config file (yaml)")
	flags.IntP("workers", "w", 4, "worker goroutines in the pool")
	flags.IntP("producers", "p", 4, "concurrent producers building chains")
	flags.Int("chains", 16, "dependency chains per producer")
	flags.Int("chain-length", 32, "tasks per dependency chain")
	flags.Int("items", 10000, "items processed by the parallel loop")
	flags.Int("batch", 128, "items per parallel loop batch")
	flags.Duration("timeout", 30*time.Second, "abandon the run after this long")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2112")
	flags.Duration("linger", 0, "keep serving metrics this long after the run")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Bool("lock-diagnostics", false, "enable deadlock detection on scheduler locks")
	_ = v.BindPFlags(flags)

	return cmd
}

func initConfig(v *viper.Viper) error {
	setDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix("TASKBENCH")
	// e.g. TASKBENCH_CHAIN_LENGTH for chain-length
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 4)
	v.SetDefault("producers", 4)
	v.SetDefault("chains", 16)
	v.SetDefault("chain-length", 32)
	v.SetDefault("items", 10000)
	v.SetDefault("batch", 128)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("log-level", "info")
}

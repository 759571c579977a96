package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/imgprefetch/cmd/fetch"
	"github.com/tphakala/imgprefetch/cmd/watch"
	"github.com/tphakala/imgprefetch/internal/conf"
	"github.com/tphakala/imgprefetch/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "imgprefetch",
		Short:   "Cursor-driven image preloading cache",
		Version: settings.Version,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(
		fetch.Command(settings),
		watch.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().IntVarP(&settings.Prefetch.Range, "range", "r", viper.GetInt("prefetch.range"), "Preload window radius around the cursor")
	rootCmd.PersistentFlags().DurationVar(&settings.Prefetch.Delay, "delay", viper.GetDuration("prefetch.delay"), "Debounce delay for cursor moves")
	rootCmd.PersistentFlags().BoolVar(&settings.Prefetch.Enabled, "prefetch", viper.GetBool("prefetch.enabled"), "Enable cursor-driven preloading")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

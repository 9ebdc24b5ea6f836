package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keagan/audiogram/internal/api"
	"github.com/keagan/audiogram/internal/config"
	"github.com/keagan/audiogram/internal/logging"
	"github.com/keagan/audiogram/internal/overlays"
	"github.com/keagan/audiogram/internal/pipeline"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/keagan/audiogram/pkg/util"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audiogram",
	Short: "audiogram - audio-reactive video generator",
	Long:  "Turns podcast audio into styled, audio-reactive videos with branded overlays and a thumbnail.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		logging.Init(verbose, cfg.LogFormat)

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	renderCmd.Flags().StringVarP(&renderStyle, "style", "s", "synthwave", "style preset")
	renderCmd.Flags().StringVar(&episode.Title, "title", "", "episode title")
	renderCmd.Flags().StringVar(&episode.Guest, "guest", "", "guest name for lower thirds")
	renderCmd.Flags().StringVar(&episode.Sponsor, "sponsor", "", "sponsor shown on the end screen")
	renderCmd.Flags().Int64Var(&renderSeed, "seed", 0, "fixed seed for reproducible output")
	renderCmd.Flags().StringVar(&thumbnailAt, "thumbnail-at", "", "thumbnail timestamp, e.g. 7.5 or 00:01:30")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(stylesCmd)
	rootCmd.AddCommand(configCmd)
}

var (
	renderStyle string
	renderSeed  int64
	thumbnailAt string
	episode     overlays.Episode
	serveAddr   string
)

var renderCmd = &cobra.Command{
	Use:   "render [audio file]",
	Short: "Render a video for one audio file and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if renderSeed != 0 {
			cfg.Render.Seed = renderSeed
		}
		if thumbnailAt != "" {
			at, err := util.ParseTimestamp(thumbnailAt)
			if err != nil {
				return err
			}
			cfg.Overlays.ThumbnailAt = at
		}
		log := logging.WithComponent("cli")

		svc, err := pipeline.New(logging.NewLogger(), cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.Submit(pipeline.Request{
			AudioPath: args[0],
			Style:     renderStyle,
			Episode:   episode,
		})
		if err != nil {
			return err
		}
		log.Info().Str("job", id).Msg("rendering")

		res, err := svc.Wait(cmd.Context(), id)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("job %s failed: %s", id, res.Error)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept jobs over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		logger := logging.NewLogger()
		log := logging.WithComponent("cli")
		svc, err := pipeline.New(logger, cfg)
		if err != nil {
			return err
		}

		server := api.NewServer(addr, svc, logger)
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", addr).Msg("server listening")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			svc.Close()
			return err
		case <-cmd.Context().Done():
		}
		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
			if closeErr := server.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("forced close failed")
			}
		}

		// queued jobs still finish and write their records
		svc.Close()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [job id]",
	Short: "Show a job's terminal record, or pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := pipeline.OpenStores(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		st, err := pipeline.StatusFromStore(cmd.Context(), stores.Results, args[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress [job id]",
	Short: "Show a job's frame progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		stores, err := pipeline.OpenStores(cfg)
		if err != nil {
			return err
		}
		rec, err := pipeline.ReadProgress(cmd.Context(), stores.Progress, args[0], cfg.Server.PollTimeout)
		if err != nil {
			return err
		}
		fmt.Println(rec.String())
		return nil
	},
}

var stylesCmd = &cobra.Command{
	Use:   "styles",
	Short: "List available style presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := styles.Builtin()
		if err != nil {
			return err
		}
		for _, p := range reg.List() {
			fmt.Printf("%-12s %-9s %-9s %-8s %s\n", p.Name, p.Motion, p.Texture, p.Reactivity, p.Description)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.FromContext(cmd.Context()).YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log := logging.WithComponent("cli")
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

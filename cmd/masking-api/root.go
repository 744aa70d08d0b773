package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/safemasking/masking-api/internal/config"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "masking-api",
	Short: "Privacy masking job service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing default .env is fine; an explicit one must exist.
		if err := godotenv.Load(envFile); err != nil {
			if envFile != ".env" || !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)

	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to a dotenv file loaded before the configuration")
}

type app struct {
	cfg   *config.Config
	db    *gorm.DB
	store store.Store
}

// setup reads the configuration, installs the global logger and opens the store.
// The returned func flushes the logger and closes the store.
func setup() (*app, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
	undo := zap.ReplaceGlobals(logger)

	zap.S().Named("masking_api").Debugf("using config:\n%s", cfg)

	db, err := store.InitDB(cfg)
	if err != nil {
		undo()
		_ = logger.Sync()
		return nil, nil, err
	}

	s := store.NewStore(db)
	cleanup := func() {
		_ = s.Close()
		undo()
		_ = logger.Sync()
	}
	return &app{cfg: cfg, db: db, store: s}, cleanup, nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/kiln/internal/config"
	"github.com/zjrosen/kiln/internal/log"
)

const localConfigPath = ".kiln/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Apply AI-generated project actions to a sandboxed workspace",
	Long: `Kiln applies the file and shell actions streamed out of an AI chat to a
project workspace, keeps a history of chats with project snapshots, and
exports or pushes the resulting project.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .kiln/config.yaml, then ~/.config/kiln/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from KILN_LOG, default debug.log)")
	rootCmd.PersistentFlags().String("workdir", "", "project path inside the runtime")

	_ = viper.BindPFlag("workdir", rootCmd.PersistentFlags().Lookup("workdir"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .kiln/config.yaml (current directory)
		// 2. ~/.config/kiln/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else if dir := config.DefaultConfigDir(); dir != "" {
			viper.AddConfigPath(dir)
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// A missing file leaves the defaults in place.
	_ = viper.ReadInConfig()
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if debugFlag || runLogs || os.Getenv("KILN_DEBUG") != "" {
		logPath := os.Getenv("KILN_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "kiln")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.Info(log.CatConfig, "kiln starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// configPath is the file config writes go to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	if cfgFile != "" {
		return cfgFile
	}
	return localConfigPath
}

// historyPath resolves the history database, creating its directory.
func historyPath() (string, error) {
	p := cfg.History.DBPath
	if p == "" {
		return "", errors.New("history.db_path is not set and no home directory is available")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("creating history directory: %w", err)
	}
	return p, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

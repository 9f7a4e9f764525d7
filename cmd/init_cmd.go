package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marquee/marquee/internal/config"
)

var (
	initDefaults bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file",
	Long: `Walk through prompts to create a Marquee configuration file at
~/.marquee/marquee.yaml. With --defaults no questions are asked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}
		if _, err := os.Stat(cfgPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}

		cfg := config.Default()
		if !initDefaults {
			if err := promptConfig(bufio.NewReader(os.Stdin), cfg); err != nil {
				return err
			}
		}

		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  marquee ping       Check the database connection")
		fmt.Println("  marquee run        Run the pipeline once")
		fmt.Println("  marquee schedule   Run the pipeline daily")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false, "write the default config without prompting")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func promptConfig(reader *bufio.Reader, cfg *config.Config) error {
	fmt.Println("Marquee Configuration Setup")
	fmt.Println("===========================")
	fmt.Println()

	fmt.Println("Database")
	fmt.Println("--------")
	cfg.Database.Driver = prompt(reader, "Driver (postgres/sqlite)", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = prompt(reader, "Database file", config.ExpandHome("~/.marquee/marquee.db"))
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Username, cfg.Database.Password = "", 0, "", ""
		cfg.Database.Database = ""
	} else {
		cfg.Database.Host = prompt(reader, "Host", cfg.Database.Host)
		portStr := prompt(reader, "Port", strconv.Itoa(cfg.Database.Port))
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %s", portStr)
		}
		cfg.Database.Port = port
		cfg.Database.Database = prompt(reader, "Database name", cfg.Database.Database)
		cfg.Database.Username = prompt(reader, "Username", cfg.Database.Username)
		cfg.Database.Password = prompt(reader, "Password or secret reference", cfg.Database.Password)
	}
	fmt.Println()

	fmt.Println("Files")
	fmt.Println("-----")
	cfg.Paths.MoviesFile = prompt(reader, "Movies file", cfg.Paths.MoviesFile)
	cfg.Paths.RatingsFile = prompt(reader, "Ratings file", cfg.Paths.RatingsFile)
	cfg.Paths.OutputDir = prompt(reader, "Output directory", cfg.Paths.OutputDir)
	fmt.Println()

	fmt.Println("Schedule")
	fmt.Println("--------")
	cfg.Schedule.DailyAt = prompt(reader, "Daily run time (HH:MM)", cfg.Schedule.DailyAt)
	cfg.Quality.Mode = prompt(reader, "Quality mode (observe/enforce)", cfg.Quality.Mode)
	fmt.Println()

	return cfg.Validate()
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

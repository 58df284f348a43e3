package commands

import (
	"fmt"
	"strings"

	"github.com/devrimkaya/flagship/internal/cli"
)

func runConfig(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: flagship config <init|list|get|set> [arguments]")
	}

	switch args[0] {
	case "init":
		return configInit()
	case "list":
		return configList()
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: flagship config get <env.key>")
		}
		return configGet(args[1])
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: flagship config set <env.key> <value>")
		}
		return configSet(args[1], args[2])
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

func configInit() error {
	if err := cli.InitConfig(); err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	path, _ := cli.GetConfigPath()
	fmt.Printf("wrote default config to %s\n", path)
	return nil
}

func configList() error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("default_env: %s\n", cfg.DefaultEnv)
	for name, envCfg := range cfg.Environments {
		fmt.Printf("%s:\n  base_url: %s\n  api_key: %s\n", name, envCfg.BaseURL, redact(envCfg.APIKey))
	}
	return nil
}

// configGet/configSet address one value by "env.key" where key is
// "base_url" or "api_key", matching the dotted-path form the teacher's
// own config get/set commands used.
func configGet(path string) error {
	envName, key, err := splitConfigPath(path)
	if err != nil {
		return err
	}
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return fmt.Errorf("environment %q not found", envName)
	}
	switch key {
	case "base_url":
		fmt.Println(envCfg.BaseURL)
	case "api_key":
		fmt.Println(envCfg.APIKey)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func configSet(path, value string) error {
	envName, key, err := splitConfigPath(path)
	if err != nil {
		return err
	}
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]cli.EnvConfig)
	}
	envCfg := cfg.Environments[envName]
	switch key {
	case "base_url":
		envCfg.BaseURL = value
	case "api_key":
		envCfg.APIKey = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	cfg.Environments[envName] = envCfg
	if err := cli.SaveConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func splitConfigPath(path string) (env, key string, err error) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <env.key>, got %q", path)
	}
	return parts[0], parts[1], nil
}

func redact(apiKey string) string {
	if len(apiKey) <= 4 {
		return "****"
	}
	return apiKey[:4] + strings.Repeat("*", len(apiKey)-4)
}

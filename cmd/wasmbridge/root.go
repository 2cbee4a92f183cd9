package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/runtime"
)

const envPrefix = "WASMBRIDGE"

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile  string
	envFiles    []string
	logLevel    string
	logFormat   string
	set         map[string]string
	interpreter bool
	cacheDir    string

	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wasmbridge",
		Short:         "Run and inspect WebAssembly modules through the bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if o.log != nil {
				_ = o.log.Sync()
			}
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&o.configFile, "config", "", "configuration file (yaml, json or toml) with bridge keys such as epoch.enable")
	f.StringSliceVar(&o.envFiles, "env-file", nil, "dotenv files to load before reading "+envPrefix+"_* variables (default .env if present)")
	f.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", "console", "log format: console or json")
	f.StringToStringVarP(&o.set, "set", "c", nil, "configuration override, e.g. -c epoch.enable=true")
	f.BoolVar(&o.interpreter, "interpreter", false, "use the wazero interpreter instead of the compiler")
	f.StringVar(&o.cacheDir, "cache-dir", "", "directory for the on-disk compilation cache")

	cmd.AddCommand(
		newRunCmd(o),
		newCallCmd(o),
		newInspectCmd(o),
		newCompileCmd(o),
		newSectionsCmd(o),
	)
	return cmd
}

func (o *rootOptions) setup() error {
	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return fmt.Errorf("load env files: %w", err)
		}
	} else {
		// a missing default .env is fine
		_ = godotenv.Load()
	}

	log, err := newLogger(o.logLevel, o.logFormat)
	if err != nil {
		return err
	}
	o.log = log
	engine.SetLogger(log.Named("engine"))
	host.SetLogger(log.Named("host"))
	runtime.SetLogger(log.Named("runtime"))
	return nil
}

// rawConfig gathers bridge configuration keys from, in increasing
// precedence, the config file, WASMBRIDGE_* variables and -c flags.
func (o *rootOptions) rawConfig() (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", o.configFile, err)
		}
	}

	raw := make(map[string]any)
	for _, key := range config.Keys() {
		if key == "wasi.context" {
			continue
		}
		if !v.IsSet(key) {
			continue
		}
		val := v.Get(key)
		if s, ok := val.(string); ok {
			val = coerce(key, s)
		}
		raw[key] = val
	}
	for k, s := range o.set {
		raw[k] = coerce(k, s)
	}
	return raw, nil
}

// coerce turns flag and environment strings into the bools and numbers
// config.Parse expects. Byte payloads stay strings.
func coerce(key, s string) any {
	if strings.EqualFold(key, "wasi.stdin.inputData") || strings.EqualFold(key, "wasi.stdin_data") {
		return s
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func (o *rootOptions) engineOptions() []engine.Option {
	var opts []engine.Option
	if o.interpreter {
		opts = append(opts, engine.WithInterpreter())
	}
	if o.cacheDir != "" {
		opts = append(opts, engine.WithCacheDir(o.cacheDir))
	}
	return opts
}

func main() {
	os.Exit(execute())
}

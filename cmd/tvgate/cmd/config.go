package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tvgate/tvgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for inspecting tvgate configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format, with the token salt
redacted.

Without --config this shows the defaults and can seed a configuration
template:

  tvgate config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., /etc/tvgate, $HOME/.tvgate)
  - Environment variables with the TVGATE_ prefix and underscores for
    nesting (server.port -> TVGATE_SERVER_PORT)
  - Command-line flags (for some options)`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		// A partial or empty configuration still dumps: fall back to
		// defaults so the command works before any config exists.
		v := viper.New()
		config.SetDefaults(v)
		cfg = &config.Config{}
		if uerr := v.Unmarshal(cfg); uerr != nil {
			return fmt.Errorf("building default config: %w", uerr)
		}
	}

	if cfg.Proxy.TokenSalt != "" {
		cfg.Proxy.TokenSalt = "<redacted>"
	}

	out, err := yaml.Marshal(toMap(*cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// rendering durations human-readable.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			switch field.Kind() {
			case reflect.Struct:
				result[key] = toMap(field.Interface())
			case reflect.Slice:
				items := make([]any, 0, field.Len())
				for j := 0; j < field.Len(); j++ {
					item := field.Index(j)
					if item.Kind() == reflect.Struct {
						items = append(items, toMap(item.Interface()))
					} else {
						items = append(items, item.Interface())
					}
				}
				result[key] = items
			default:
				result[key] = field.Interface()
			}
		}
	}

	return result
}

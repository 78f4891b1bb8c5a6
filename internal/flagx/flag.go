// Package flagx selects the config-file flag out of the full argument list so
// that the JSON layer can be loaded before the remaining flags are parsed.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// FilterArgs returns only the allowedFlags (and their values) from args.
//
// Supported forms:
//
//	-c conf.json
//	--config=conf.json
//
// A value that itself starts with "-" is not consumed.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ConfigPath extracts the JSON config path given with -c or -config (single
// or double dash) from args. The last occurrence wins; "" when absent.
func ConfigPath(args []string) string {
	var config string

	filtered := FilterArgs(args, []string{"-c", "-config", "--c", "--config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(filtered)

	return config
}

// JsonConfigFlags is ConfigPath over os.Args.
func JsonConfigFlags() string {
	return ConfigPath(os.Args[1:])
}

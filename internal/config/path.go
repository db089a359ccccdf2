package config

import "os"

// ResolvePath picks the config file to load: the explicit flag value, then
// CONSULTRELAY_CONFIG, then the first existing well-known location. An empty
// result means "defaults and environment only".
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("CONSULTRELAY_CONFIG"); p != "" {
		return p
	}

	candidates := []string{
		"./consultrelay.yaml",
		"./consultrelay.yml",
		"/etc/consultrelay/config.yaml",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

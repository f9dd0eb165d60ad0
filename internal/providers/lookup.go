package providers

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvLookup resolves credential sources from the process environment first,
// then from the given dotenv files. Files are re-read on every call so a key
// rotated on disk applies to the next dispatch; unreadable files are ignored.
func EnvLookup(files ...string) LookupFunc {
	return func(name string) (string, bool) {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value, true
		}
		for _, file := range files {
			if file == "" {
				continue
			}
			values, err := godotenv.Read(file)
			if err != nil {
				continue
			}
			if value, ok := values[name]; ok && value != "" {
				return value, true
			}
		}
		return "", false
	}
}

// MapLookup resolves credential sources from a fixed map.
func MapLookup(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

package utils

import (
	"fmt"
	"os"
)

// CheckConfigFile reports why path cannot be used as a configuration file:
// it is missing or is a directory.
func CheckConfigFile(path string) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("config file not found: %s", path)
	case err != nil:
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	case info.IsDir():
		return fmt.Errorf("config path is a directory: %s", path)
	}
	return nil
}

package utils

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteJSONFile marshals data with two-space indentation and writes it atomically
func WriteJSONFile(filePath string, data interface{}, perm os.FileMode) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return AtomicWriteFile(filePath, jsonData, perm)
}

// ReadJSONFile reads a JSON file into target. Read errors wrap the os error,
// so fs.ErrNotExist survives errors.Is.
func ReadJSONFile(filePath string, target interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return nil
}

package inference

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a label file: one label per line, in model output order.
// Blank lines are kept so positions still line up with the model outputs.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q, did you copy the model and label files onto the device? (%w)", path, err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %q is empty", path)
	}
	return labels, nil
}

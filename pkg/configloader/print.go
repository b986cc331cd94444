package configloader

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// PrintConfig prints the config as indented JSON.
func PrintConfig(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}

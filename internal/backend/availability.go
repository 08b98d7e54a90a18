package backend

import "strings"

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Host}
	if gpuName != "" {
		entries = append(entries, gpuName)
	}
	return strings.Join(entries, ",")
}

// Has reports whether the named backend is compiled into this build.
func Has(name string) bool {
	return name == Host || (name != "" && name == gpuName)
}

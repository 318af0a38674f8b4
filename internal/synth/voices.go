package synth

import "fmt"

// Voice describes one entry of the known-voice catalog.
type Voice struct {
	Name   string
	Locale string
	Gender string
}

// DefaultVoice is used when config leaves the voice empty.
const DefaultVoice = "en-US-Neural2-D"

var catalog = []Voice{
	{Name: "en-US-Neural2-A", Locale: "en-US", Gender: "male"},
	{Name: "en-US-Neural2-C", Locale: "en-US", Gender: "female"},
	{Name: "en-US-Neural2-D", Locale: "en-US", Gender: "male"},
	{Name: "en-US-Neural2-F", Locale: "en-US", Gender: "female"},
	{Name: "en-US-Neural2-J", Locale: "en-US", Gender: "male"},
	{Name: "en-GB-Neural2-A", Locale: "en-GB", Gender: "female"},
	{Name: "en-GB-Neural2-B", Locale: "en-GB", Gender: "male"},
	{Name: "en-AU-Neural2-B", Locale: "en-AU", Gender: "male"},
	{Name: "en-AU-Neural2-C", Locale: "en-AU", Gender: "female"},
}

// Voices returns the catalog, copied so callers cannot mutate it.
func Voices() []Voice {
	out := make([]Voice, len(catalog))
	copy(out, catalog)
	return out
}

// ResolveVoice maps an empty or catalog name to a usable voice. Names
// outside the catalog pass through untouched so new provider voices work
// without a code change.
func ResolveVoice(name string) string {
	if name == "" {
		return DefaultVoice
	}
	return name
}

// LookupVoice finds a catalog entry by name.
func LookupVoice(name string) (Voice, error) {
	for _, v := range catalog {
		if v.Name == name {
			return v, nil
		}
	}
	return Voice{}, fmt.Errorf("voice %q not in catalog", name)
}

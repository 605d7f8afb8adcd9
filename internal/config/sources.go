package config

// ConfigSource names the layer a setting came from. Layers apply in the
// order default, user, project, flag (--config), env, flag (command flags).
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceUser    ConfigSource = "user"    // ~/.hilo/config.yaml
	SourceProject ConfigSource = "project" // .hilo/config.yaml
	SourceEnv     ConfigSource = "env"     // HILO_* variables
	SourceFlag    ConfigSource = "flag"    // --config file and command flags
)

// TrackedSource is a layer plus the file, variable, or flag that set the value.
type TrackedSource struct {
	Source ConfigSource
	Path   string
}

func (ts TrackedSource) String() string {
	if ts.Path == "" {
		return string(ts.Source)
	}
	return string(ts.Source) + ": " + ts.Path
}

// TrackedConfig is a merged Config that remembers where each leaf setting
// was last written from.
type TrackedConfig struct {
	Config  *Config
	Sources map[string]TrackedSource
}

// NewTrackedConfig starts from defaults with every path marked default.
func NewTrackedConfig() *TrackedConfig {
	paths := AllConfigPaths()
	tc := &TrackedConfig{
		Config:  Default(),
		Sources: make(map[string]TrackedSource, len(paths)),
	}
	for _, p := range paths {
		tc.SetSource(p, SourceDefault)
	}
	return tc
}

func (tc *TrackedConfig) SetSource(path string, source ConfigSource) {
	tc.SetSourceWithPath(path, source, "")
}

func (tc *TrackedConfig) SetSourceWithPath(path string, source ConfigSource, origin string) {
	tc.Sources[path] = TrackedSource{Source: source, Path: origin}
}

func (tc *TrackedConfig) GetSource(path string) ConfigSource {
	return tc.GetTrackedSource(path).Source
}

// GetTrackedSource reports default for paths nothing has set.
func (tc *TrackedConfig) GetTrackedSource(path string) TrackedSource {
	if ts, ok := tc.Sources[path]; ok {
		return ts
	}
	return TrackedSource{Source: SourceDefault}
}

package clinical

// Open returns an HTTPClient when opts names a base URL. Without one it
// returns a Fake for local development, serving the YAML fixture at
// capsFile when given and DefaultCapabilities otherwise.
func Open(opts HTTPOptions, capsFile string) (Client, error) {
	if opts.BaseURL != "" {
		return NewHTTPClient(opts)
	}
	caps := DefaultCapabilities()
	if capsFile != "" {
		loaded, err := LoadCapabilities(capsFile)
		if err != nil {
			return nil, err
		}
		caps = loaded
	}
	return NewFake(caps), nil
}

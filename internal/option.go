package internal

// Option customizes the application before Run starts it.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies the configuration the application runs with.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

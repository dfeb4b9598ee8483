package generation

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

type Option func(*Options)

type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	APIVersion  string
	MaxTokens   int
	Temperature float32
}

func WithAPIKey(apiKey string) Option {
	return func(o *Options) {
		o.APIKey = apiKey
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

func WithAPIVersion(version string) Option {
	return func(o *Options) {
		o.APIVersion = version
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

func WithTemperature(t float32) Option {
	return func(o *Options) {
		o.Temperature = t
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

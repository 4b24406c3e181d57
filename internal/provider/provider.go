package provider

import "fmt"

// Provider identifies a selectable AI backend
type Provider string

const (
	Mock     Provider = "mock"
	Coze     Provider = "coze"
	OpenAI   Provider = "openai"
	DeepSeek Provider = "deepseek"
)

// WireFormat describes the request/response shape a provider speaks
type WireFormat int

const (
	// Generic is the chat-completion JSON shape ({model, messages})
	Generic WireFormat = iota
	// Custom is the Coze v3 streaming chat envelope
	Custom
)

func (f WireFormat) String() string {
	switch f {
	case Generic:
		return "generic"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Spec is the static description of one provider
type Spec struct {
	DisplayName string
	BaseURL     string
	WireFormat  WireFormat
}

// order is the fixed listing order used by All
var order = []Provider{Mock, Coze, OpenAI, DeepSeek}

// registry is the single dispatch table for provider attributes.
// A new provider needs an entry here plus a body builder and a frame decoder
// in the assistant package, both keyed by WireFormat.
var registry = map[Provider]Spec{
	Mock: {
		DisplayName: "Mock AI",
		BaseURL:     "",
		WireFormat:  Generic,
	},
	Coze: {
		DisplayName: "Coze",
		BaseURL:     "https://api.coze.cn/v3/chat",
		WireFormat:  Custom,
	},
	OpenAI: {
		DisplayName: "OpenAI",
		BaseURL:     "https://api.openai.com/v1/chat/completions",
		WireFormat:  Generic,
	},
	DeepSeek: {
		DisplayName: "DeepSeek",
		BaseURL:     "https://api.deepseek.com/chat/completions",
		WireFormat:  Generic,
	},
}

// All returns every known provider in display order
func All() []Provider {
	out := make([]Provider, len(order))
	copy(out, order)
	return out
}

// Lookup returns the registry entry for a provider
func Lookup(p Provider) (Spec, bool) {
	spec, ok := registry[p]
	return spec, ok
}

// Parse converts a string into a known Provider
func Parse(s string) (Provider, error) {
	p := Provider(s)
	if _, ok := registry[p]; !ok {
		return "", fmt.Errorf("unknown provider: %q", s)
	}
	return p, nil
}

// IsKnown reports whether p is part of the registry
func (p Provider) IsKnown() bool {
	_, ok := registry[p]
	return ok
}

// BaseURL returns the provider endpoint. An empty string means no network call
func (p Provider) BaseURL() string {
	return registry[p].BaseURL
}

// WireFormat returns the request/response shape of the provider
func (p Provider) WireFormat() WireFormat {
	return registry[p].WireFormat
}

// DisplayName returns the human readable provider name
func (p Provider) DisplayName() string {
	if spec, ok := registry[p]; ok {
		return spec.DisplayName
	}
	return string(p)
}

// IsMock reports whether the provider is served locally without a network call
func (p Provider) IsMock() bool {
	return p.BaseURL() == ""
}

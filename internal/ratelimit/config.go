package ratelimit

// Config holds rate limiting configuration
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Global  LimitConfig   `mapstructure:"global"`
	Tools   []ToolLimit   `mapstructure:"tools"`
}

// LimitConfig defines rate limit parameters
type LimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// ToolLimit defines per-tool rate limiting
type ToolLimit struct {
	Name              string  `mapstructure:"name"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// DefaultConfig returns the default rate limiting configuration. The
// tool set is this domain's own call sites rather than an MCP tool
// catalog: "embed" is consulted directly by internal/embedder as the
// ingest-side backpressure bucket (spec §5/§6's "ingest returns
// Transient when the embedding queue exceeds a high-water mark"), and
// the rest are the gin route patterns RateLimitMiddleware keys on
// (c.FullPath() returns the registered pattern, e.g.
// "/api/v1/memories/:id/migrate"), one per internal/api route group.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Global: LimitConfig{
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Tools: []ToolLimit{
			{
				Name:              "embed",
				RequestsPerSecond: 30,
				BurstSize:         60,
			},
			{
				Name:              "/api/v1/search",
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
			{
				Name:              "/api/v1/memories",
				RequestsPerSecond: 30,
				BurstSize:         60,
			},
			{
				Name:              "/api/v1/memories/:id/migrate",
				RequestsPerSecond: 5,
				BurstSize:         10,
			},
			{
				Name:              "/api/v1/memories/:id/freeze",
				RequestsPerSecond: 5,
				BurstSize:         10,
			},
			{
				Name:              "/api/v1/memories/:id/unfreeze",
				RequestsPerSecond: 0.1, // cold-storage restore is expensive: 1 every 10 seconds
				BurstSize:         2,
			},
			{
				Name:              "/api/v1/insights",
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
		},
	}
}

// GetToolLimit returns the limit configuration for a specific tool
// Returns nil if no specific limit is configured for the tool
func (c *Config) GetToolLimit(toolName string) *ToolLimit {
	for _, tool := range c.Tools {
		if tool.Name == toolName {
			return &tool
		}
	}
	return nil
}

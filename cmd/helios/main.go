// Helios is a protocol-translating LLM gateway.
//
// It exposes a single OpenAI-compatible chat/embeddings API and routes
// each request to one of several heterogeneous backends: spawned CLI
// processes, vendor HTTP APIs, upstream proxies, or local model servers.
// Circuit breakers, per-model fallback policies and scheduled health
// probes keep routing away from failing providers.
//
// Usage:
//
//	# Start the gateway with default configuration
//	helios run
//
//	# Start with a custom configuration file
//	helios run --config /etc/helios/config.yaml
//
//	# Validate configuration without starting
//	helios validate --config /etc/helios/config.yaml
//
//	# Show version information
//	helios version
package main

func main() {
	Execute()
}

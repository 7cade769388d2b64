// Package adapters defines the uniform execution contract that normalizes
// heterogeneous provider backends (spawned processes, HTTP APIs, upstream
// proxies, local model servers) into a single interface the gateway
// orchestrator can dispatch against.
//
// The package contains only the contract: the normalized request/response
// types, the Adapter interface, and the AdapterError taxonomy. Concrete
// variants live in the spawn, httpapi, upstream, and local subpackages and
// are constructed through pkg/adapterfactory.
package adapters

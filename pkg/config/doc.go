// Package config loads, defaults and validates the gatekeeper configuration.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("gatekeeper.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD:
//
//   - GATEKEEPER_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - GATEKEEPER_ADMISSION_STORE_BACKEND overrides admission.store.backend
//   - GATEKEEPER_ADMISSION_STORE_REDIS_ADDRS takes a comma separated list
//   - GATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	admission:
//	  store:
//	    backend: redis
//	    redis:
//	      addrs: ["redis-0:6379", "redis-1:6379", "redis-2:6379"]
//	  timeout: 50ms
//	  default_rule: {window: 1m, max_requests: 100}
//	  rules:
//	    seeds.create: {window: 1m, max_requests: 10}
//	  operations:
//	    seeds.create:
//	      quotas: [daily_seeds]
//	    serp.fetch:
//	      quotas: [monthly_serp_calls, daily_serp_calls]
//	plans:
//	  default_tier: free
//	  tenants:
//	    acme: {tier: professional}
//
// Validation collects every problem into a single ValidationError, which
// matches admission.ErrConfigInvalid with errors.Is.
package config

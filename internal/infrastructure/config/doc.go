// Package config handles loading and validating Nexus Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (NEXUS_* pattern)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Signing secrets must be set via environment variables in production
//   - The config file should have restricted permissions (0600)
//   - Access and refresh secrets must differ and be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Env)
package config

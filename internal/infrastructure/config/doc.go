// Package config handles loading and validating Gray Logic Sync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYSYNC_* environment variables
//   - Validation of required fields per operating mode
//   - Default value handling
//
// Security Considerations:
//   - The shared secret should be set via GRAYSYNC_SHARED_SECRET
//   - The config file should have restricted permissions (0600)
//   - A missing or short shared secret is fatal at startup
//
// Usage:
//
//	cfg, err := config.Load("configs/graysync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Mode)
package config

// Package config handles loading and validating Inspection Core configuration.
//
// Values are resolved in three layers: hardcoded defaults, the YAML file,
// then INSPECT_* environment variables. Validate reports every problem at
// once so operators can fix a broken file in a single pass.
//
// Security Considerations:
//   - The initial session secret must be supplied via INSPECT_SESSION_SECRET
//     in production and is never given a default
//   - The config file should have restricted permissions (0600)
//   - Session cookies are marked Secure whenever deployment.base_url is https
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Deployment.Name)
package config

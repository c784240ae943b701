// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers server transport settings,
// container engine connection, sandbox provisioning parameters, and the
// SSH session used to drive commands inside sandboxes.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox image: %s\n", cfg.Sandbox.Image)
package config

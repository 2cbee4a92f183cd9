// Package config decodes the instance configuration map.
//
// Keys may be given flat ("epoch.enable") or nested ({"epoch": {"enable":
// true}}), and older spellings such as "engine.use_epoch" are accepted as
// aliases:
//
//	cfg, err := config.Parse(map[string]any{
//	    "epoch.enable":        true,
//	    "epoch.timeout":       1.5,
//	    "memory.maxGrowBytes": "16MB",
//	})
//
// Byte sizes accept integers or datasize strings. Timeouts accept seconds
// or Go duration strings.
package config

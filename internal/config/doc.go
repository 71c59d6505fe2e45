// Package config provides configuration parsing for the grist command.
//
// The configuration is stored in grist.json in the working directory. Every
// field is optional.
//
// # Configuration File Structure
//
//	{
//	  "bench": {
//	    "profile": "standard",
//	    "profiles": {
//	      "ui": {"writers": 1, "readers": 8, "iterations": 20000, "subscribers": 32}
//	    }
//	  },
//	  "serve": {
//	    "addr": ":8080",
//	    "tick": "250ms"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "debug": {
//	    "trackBorrows": true,
//	    "detectReentrancy": true
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := cfg.Profile("stress")
package config

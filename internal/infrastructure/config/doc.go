// Package config loads the proxy's configuration from environment variables
// and interpreter profiles from optional YAML or TOML files.
//
// Profiles files list profiles under a top-level "profiles" key:
//
//	profiles:
//	  - name: zsh
//	    extends: sh
//	    shell: /bin/zsh
//	    args: [-f]
//	  - name: sh-tty
//	    extends: sh
//	    env: [PS1=, PS2=]
//	    transport: pty
//	    strip_echo: true
package config

// Package config loads the JSON configuration of the plugin daemon and fills
// in defaults for everything left out.
package config

// Package config loads guardcache settings.
//
// Sources, later ones winning:
//  1. Default()
//  2. a YAML file (unknown fields rejected)
//  3. GUARDCACHE_* environment variables
//
// The merged result is validated against an embedded CUE schema.
package config

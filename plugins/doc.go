// Package plugins hosts the statically registered plugin implementations.
// Each subpackage exposes a value satisfying core.Plugin; the application
// installs them at startup.
package plugins

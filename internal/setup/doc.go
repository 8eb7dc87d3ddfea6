// Package setup prepares the process for imaging: it checks privileges, raises
// resource limits and locates the default configuration.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup

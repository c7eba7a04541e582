// Package util provides small internal helpers shared across packages.
package util

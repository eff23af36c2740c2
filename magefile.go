//go:build mage

package main

import "github.com/magefile/mage/sh"

// Build compiles the import-twse binary.
func Build() error {
	return sh.RunV("go", "build", "-o", "import-twse", ".")
}

// Test runs the test suite.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Vet runs go vet over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

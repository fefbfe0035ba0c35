// Package testutil provides testing utilities, fixtures, and assertion
// helpers shared by the package test suites.
package testutil

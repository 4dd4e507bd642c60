// Package testutil provides testing utilities, mock implementations, and
// test fixtures for the authority library. It includes helpers for
// creating test clients, tokens, and artifacts, plus small assertion
// helpers for table-driven tests.
package testutil

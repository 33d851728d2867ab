// Package ui renders the operator CLI's terminal output with Lipgloss:
// command headers, result boxes with ordered fields, error boxes with
// troubleshooting tips, and typed confirmations for destructive commands.
//
// Output is written once and not redrawn. The interactive peer lives in
// package watch and reuses the palette defined here.
package ui

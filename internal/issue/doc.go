// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors with remediation hints and a
// catalogue of Markdown issue pages rendered for the terminal.
package issue

// Package activity provides the bounded activity log shown to operators.
//
// Entries are kept in a fixed-size ring (100 by default) and read back most
// recent first, formatted as "[HH:MM:SS] message".
package activity

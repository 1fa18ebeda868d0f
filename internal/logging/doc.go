// Package logger provides leveled, colored logging for the vault engine and
// its command line.
//
// The zero value is usable: warnings and errors go to stderr, info and debug
// are suppressed.
//
//	log := logger.Logger{Verbose: verbose, Debug: debug}
//	log.Infof("vault saved (%d records)", n)
//
// Never pass passphrases, keys or secret values to a Logger.
package logger

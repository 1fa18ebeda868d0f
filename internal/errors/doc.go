// Package errors provides typed error values for the vault engine.
//
// Callers match on these with errors.Is rather than on message text. I/O
// failures wrap both ErrIOFailure and the underlying OS error, so either can
// be tested:
//
//	if errors.Is(err, verrors.ErrIOFailure) && errors.Is(err, fs.ErrPermission) {
//	    // ask the user to fix permissions
//	}
//
// No error produced by the engine carries plaintext, passphrase or key bytes.
package errors

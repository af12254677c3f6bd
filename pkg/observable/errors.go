package observable

import "errors"

// ErrNoValue is returned by FirstValueFrom when the observable completes
// cleanly without ever emitting a value.
var ErrNoValue = errors.New("observable: completed without a value")

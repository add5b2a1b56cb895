/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package gcra contains the rate-limiting primitives shared by the rest of
// the library: the Quota value type, the Clock abstraction, and the pure
// GCRA (Generic Cell Rate Algorithm) admission arithmetic.
// A good explanation of GCRA is provided here: https://brandur.org/rate-limiting#gcra.
package gcra

// Package clock abstracts time for the controller loop. Production code uses
// [Real]; the daemon's simulator can run on a [Scaled] clock that compresses
// time; tests use a [Fake] whose Sleep advances virtual time instantly so
// loops run deterministically without wall-clock waits.
package clock

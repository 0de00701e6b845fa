// Package exposure decides which host entities clients may see and command.
//
// Readable and controllable are configured independently. The Registry is
// read on every broadcast and every command, and replaced at runtime by an
// operator; replacement is a single atomic pointer swap.
package exposure

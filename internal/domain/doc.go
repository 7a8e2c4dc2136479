// Package domain defines core data models, errors and interfaces shared
// across the module. It contains plain types (wire/state), the protocol
// error taxonomy and contracts (interfaces) only.
package domain
